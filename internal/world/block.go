package world

import "strings"

const MaterialAir = "air"

// Block is the value held by a voxel. It is comparable so that no-op writes
// can be detected with ==.
type Block struct {
	Material string
	State    string
}

var Air = Block{Material: MaterialAir}

// B is shorthand for a stateless block of the given material.
func B(material string) Block {
	return Block{Material: material}
}

// ParseBlock accepts "material" or "material[state]".
func ParseBlock(text string) Block {
	text = strings.TrimSpace(strings.ToLower(text))
	if i := strings.IndexByte(text, '['); i >= 0 && strings.HasSuffix(text, "]") {
		return Block{Material: text[:i], State: text[i+1 : len(text)-1]}
	}
	return Block{Material: text}
}

func (b Block) IsAir() bool {
	return b.Material == "" || b.Material == MaterialAir
}

// Normalize folds the zero value into Air.
func (b Block) Normalize() Block {
	if b.Material == "" {
		return Air
	}
	return b
}

func (b Block) String() string {
	if b.IsAir() {
		return MaterialAir
	}
	if b.State == "" {
		return b.Material
	}
	return b.Material + "[" + b.State + "]"
}
