package world

// MaterialClass groups materials by how their placement interacts with the
// rest of the simulation.
type MaterialClass int

const (
	ClassOther MaterialClass = iota
	ClassStructural
	ClassInert
	ClassGravity
	ClassFluid
	ClassRedstone
	ClassMechanism
)

func (c MaterialClass) String() string {
	switch c {
	case ClassStructural:
		return "structural"
	case ClassInert:
		return "inert"
	case ClassGravity:
		return "gravity"
	case ClassFluid:
		return "fluid"
	case ClassRedstone:
		return "redstone"
	case ClassMechanism:
		return "mechanism"
	default:
		return "other"
	}
}

// Placement priorities, lowest first.
const (
	PriorityStructural = 0
	PriorityInert      = 1
	PriorityOther      = 2
	PriorityGravity    = 3
)

// Materials classifies block materials. The zero value classifies every
// material as ClassOther.
type Materials struct {
	classes map[string]MaterialClass
}

// MaterialLists is the configurable extension of the default classification.
type MaterialLists struct {
	Structural []string
	Inert      []string
	Gravity    []string
	Fluid      []string
	Redstone   []string
	Mechanism  []string
}

var defaultMaterialLists = MaterialLists{
	Structural: []string{"bedrock", "barrier", "glass", "obsidian", "structure_void", "light"},
	Inert: []string{
		"stone", "dirt", "grass_block", "cobblestone", "deepslate", "granite", "diorite", "andesite",
		"planks", "log", "bricks", "sandstone", "netherrack", "clay", "terracotta", "wool",
		"coal_ore", "iron_ore", "gold_ore", "redstone_ore", "lapis_ore", "diamond_ore", "copper_ore",
	},
	Gravity:   []string{"sand", "red_sand", "gravel", "concrete_powder", "anvil", "dragon_egg", "pointed_dripstone"},
	Fluid:     []string{"water", "lava", "bubble_column"},
	Redstone:  []string{"redstone_wire", "repeater", "comparator", "redstone_torch", "observer", "redstone_lamp", "tripwire"},
	Mechanism: []string{"piston", "sticky_piston", "door", "trapdoor", "rail", "powered_rail", "lever", "button", "pressure_plate", "dispenser", "hopper"},
}

// DefaultMaterials returns the built-in classification.
func DefaultMaterials() *Materials {
	return NewMaterials(MaterialLists{})
}

// NewMaterials returns the default classification extended by extra. Entries
// in extra override the defaults.
func NewMaterials(extra MaterialLists) *Materials {
	m := &Materials{classes: make(map[string]MaterialClass)}
	m.addLists(defaultMaterialLists)
	m.addLists(extra)
	return m
}

func (m *Materials) addLists(l MaterialLists) {
	add := func(names []string, class MaterialClass) {
		for _, name := range names {
			m.classes[name] = class
		}
	}
	add(l.Structural, ClassStructural)
	add(l.Inert, ClassInert)
	add(l.Gravity, ClassGravity)
	add(l.Fluid, ClassFluid)
	add(l.Redstone, ClassRedstone)
	add(l.Mechanism, ClassMechanism)
}

func (m *Materials) Class(b Block) MaterialClass {
	if m == nil || b.IsAir() {
		return ClassOther
	}
	return m.classes[b.Material]
}

// Priority orders placements: structural/marker values first, inert solids
// second, everything else third, gravity-affected values last.
func (m *Materials) Priority(b Block) int {
	switch m.Class(b) {
	case ClassStructural:
		return PriorityStructural
	case ClassInert:
		return PriorityInert
	case ClassGravity:
		return PriorityGravity
	default:
		return PriorityOther
	}
}

// NeedsDeferred reports whether placing b triggers cascading updates that
// should be postponed until a whole batch has been written.
func (m *Materials) NeedsDeferred(b Block) bool {
	switch m.Class(b) {
	case ClassGravity, ClassFluid, ClassRedstone, ClassMechanism:
		return true
	default:
		return false
	}
}

// IsSolid reports whether b supports a gravity-affected block resting on it.
func (m *Materials) IsSolid(b Block) bool {
	if b.IsAir() {
		return false
	}
	return m.Class(b) != ClassFluid
}
