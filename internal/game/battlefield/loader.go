package battlefield

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/hexbattle/internal/game/hex"
)

// yamlLayoutFile is the top-level YAML structure for battlefield files.
type yamlLayoutFile struct {
	Battlefield yamlLayout `yaml:"battlefield"`
}

type yamlLayout struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Width     int            `yaml:"width"`
	Height    int            `yaml:"height"`
	Buffer    yamlBuffer     `yaml:"buffer"`
	Obstacles []yamlObstacle `yaml:"obstacles"`
	Props     []yamlProp     `yaml:"props"`
	NPCs      []yamlNPC      `yaml:"npcs"`
}

type yamlBuffer struct {
	// Edge frames the whole perimeter with buffer tiles.
	Edge  bool        `yaml:"edge"`
	Tiles []hex.Coord `yaml:"tiles"`
}

type yamlObstacle struct {
	Q    int    `yaml:"q"`
	R    int    `yaml:"r"`
	Type string `yaml:"type"`
}

type yamlProp struct {
	Q        int    `yaml:"q"`
	R        int    `yaml:"r"`
	Type     string `yaml:"type"`
	Blocking bool   `yaml:"blocking"`
}

type yamlNPC struct {
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	MaxHealth   int    `yaml:"max_health"`
}

// LoadLayoutFromFile reads and validates a single battlefield YAML file.
//
// Precondition: path must point to a valid YAML battlefield file.
// Postcondition: Returns a validated Layout or a non-nil error.
func LoadLayoutFromFile(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading battlefield file %s: %w", path, err)
	}
	return LoadLayoutFromBytes(data)
}

// LoadLayoutFromBytes parses and validates a battlefield from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the battlefield schema.
// Postcondition: Returns a validated Layout or a non-nil error.
func LoadLayoutFromBytes(data []byte) (*Layout, error) {
	var file yamlLayoutFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing battlefield YAML: %w", err)
	}

	layout := convertYAMLLayout(file.Battlefield)
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("validating battlefield: %w", err)
	}
	return layout, nil
}

// LoadLayoutsFromDir loads all YAML files in a directory as layouts.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all validated layouts or the first error encountered.
func LoadLayoutsFromDir(dir string) ([]*Layout, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading battlefield directory %s: %w", dir, err)
	}

	var layouts []*Layout
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		layout, err := LoadLayoutFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading battlefield from %s: %w", name, err)
		}
		layouts = append(layouts, layout)
	}
	return layouts, nil
}

// convertYAMLLayout converts the parsed YAML structures into domain types.
func convertYAMLLayout(y yamlLayout) *Layout {
	layout := &Layout{
		ID:     y.ID,
		Name:   y.Name,
		Width:  y.Width,
		Height: y.Height,
	}
	if layout.Name == "" {
		layout.Name = layout.ID
	}

	seen := make(map[hex.Coord]bool)
	addBuffer := func(c hex.Coord) {
		if !seen[c] {
			seen[c] = true
			layout.Buffer = append(layout.Buffer, c)
		}
	}
	if y.Buffer.Edge && y.Width > 0 && y.Height > 0 {
		for _, c := range EdgeTiles(y.Width, y.Height) {
			addBuffer(c)
		}
	}
	for _, c := range y.Buffer.Tiles {
		addBuffer(c)
	}

	for _, o := range y.Obstacles {
		layout.Obstacles = append(layout.Obstacles, Obstacle{
			Position: hex.Coord{Q: o.Q, R: o.R},
			Type:     ObstacleType(strings.ToLower(o.Type)),
		})
	}
	for _, p := range y.Props {
		layout.Props = append(layout.Props, Prop{
			Position:   hex.Coord{Q: p.Q, R: p.R},
			Type:       p.Type,
			IsBlocking: p.Blocking,
		})
	}
	for _, n := range y.NPCs {
		display := n.DisplayName
		if display == "" {
			display = n.Username
		}
		layout.NPCs = append(layout.NPCs, NPCSpec{
			Username:    n.Username,
			DisplayName: display,
			MaxHealth:   n.MaxHealth,
		})
	}
	return layout
}
