package p2p

import (
	"fmt"
	"strconv"
	"strings"
)

// WPSOUI is the Wi-Fi Alliance OUI used by standard device types.
const WPSOUI = "0050F204"

// DeviceType is a WPS primary or secondary device type, written on the wire
// as "<category>-<oui>-<subcategory>", e.g. "1-0050F204-1".
type DeviceType struct {
	Category    uint16 `json:"category"`
	OUI         string `json:"oui"`
	SubCategory uint16 `json:"sub_category"`
}

// ParseDeviceType parses the wire form. Category and subcategory are decimal
// and the OUI is eight hex digits.
func ParseDeviceType(s string) (DeviceType, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return DeviceType{}, fmt.Errorf("device type %q: want category-oui-subcategory", s)
	}
	cat, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return DeviceType{}, fmt.Errorf("device type %q: category: %w", s, err)
	}
	if len(parts[1]) != 8 {
		return DeviceType{}, fmt.Errorf("device type %q: oui must be 8 hex digits", s)
	}
	if _, err := strconv.ParseUint(parts[1], 16, 32); err != nil {
		return DeviceType{}, fmt.Errorf("device type %q: oui: %w", s, err)
	}
	sub, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return DeviceType{}, fmt.Errorf("device type %q: subcategory: %w", s, err)
	}
	return DeviceType{Category: uint16(cat), OUI: strings.ToUpper(parts[1]), SubCategory: uint16(sub)}, nil
}

func (t DeviceType) String() string {
	return fmt.Sprintf("%d-%s-%d", t.Category, t.OUI, t.SubCategory)
}

// TypeDef names a category, or a subcategory when SubCategory is non-zero.
type TypeDef struct {
	Category    uint16 `json:"category"`
	OUI         string `json:"oui,omitempty"`
	SubCategory uint16 `json:"sub_category,omitempty"`
	Name        string `json:"name"`
}

type typeKey struct {
	category uint16
	oui      string
	sub      uint16
}

// Catalog resolves device types to display names and holds per-address
// aliases. It is not safe for concurrent use.
type Catalog struct {
	types   map[typeKey]string
	aliases map[MacAddress]string
}

// NewCatalog returns a catalog preloaded with the WPS 2.0 primary categories
// and the common subcategories.
func NewCatalog() *Catalog {
	c := &Catalog{
		types:   make(map[typeKey]string),
		aliases: make(map[MacAddress]string),
	}
	for _, d := range builtinTypes {
		c.Register(d)
	}
	return c
}

// Register adds or replaces a type name. An empty OUI means the WPS OUI.
func (c *Catalog) Register(d TypeDef) {
	oui := strings.ToUpper(d.OUI)
	if oui == "" {
		oui = WPSOUI
	}
	c.types[typeKey{d.Category, oui, d.SubCategory}] = d.Name
}

// SetAlias assigns a friendly name to a peer; an empty name removes it.
func (c *Catalog) SetAlias(addr MacAddress, name string) {
	if name == "" {
		delete(c.aliases, addr)
		return
	}
	c.aliases[addr] = name
}

func (c *Catalog) Alias(addr MacAddress) (string, bool) {
	n, ok := c.aliases[addr]
	return n, ok
}

// Name returns the most specific name known for t: the subcategory name,
// else the category name, else "".
func (c *Catalog) Name(t DeviceType) string {
	if n, ok := c.types[typeKey{t.Category, t.OUI, t.SubCategory}]; ok {
		return n
	}
	if n, ok := c.types[typeKey{t.Category, t.OUI, 0}]; ok {
		return n
	}
	return ""
}

// TypeName parses a wire device type and resolves it; unparsable input
// yields "".
func (c *Catalog) TypeName(wire string) string {
	if wire == "" {
		return ""
	}
	t, err := ParseDeviceType(wire)
	if err != nil {
		return ""
	}
	return c.Name(t)
}

// Len returns the number of registered type names.
func (c *Catalog) Len() int { return len(c.types) }

var builtinTypes = []TypeDef{
	{Category: 1, Name: "Computer"},
	{Category: 1, SubCategory: 1, Name: "PC"},
	{Category: 1, SubCategory: 2, Name: "Server"},
	{Category: 1, SubCategory: 5, Name: "Notebook"},
	{Category: 1, SubCategory: 8, Name: "Tablet"},
	{Category: 2, Name: "Input Device"},
	{Category: 2, SubCategory: 1, Name: "Keyboard"},
	{Category: 2, SubCategory: 2, Name: "Mouse"},
	{Category: 2, SubCategory: 5, Name: "Remote Control"},
	{Category: 3, Name: "Printer/Scanner"},
	{Category: 3, SubCategory: 1, Name: "Printer"},
	{Category: 3, SubCategory: 2, Name: "Scanner"},
	{Category: 4, Name: "Camera"},
	{Category: 4, SubCategory: 1, Name: "Digital Still Camera"},
	{Category: 4, SubCategory: 2, Name: "Video Camera"},
	{Category: 4, SubCategory: 3, Name: "Web Camera"},
	{Category: 5, Name: "Storage"},
	{Category: 5, SubCategory: 1, Name: "NAS"},
	{Category: 6, Name: "Network Infrastructure"},
	{Category: 6, SubCategory: 1, Name: "Access Point"},
	{Category: 6, SubCategory: 2, Name: "Router"},
	{Category: 7, Name: "Displays"},
	{Category: 7, SubCategory: 1, Name: "Television"},
	{Category: 7, SubCategory: 2, Name: "Electronic Picture Frame"},
	{Category: 7, SubCategory: 3, Name: "Projector"},
	{Category: 7, SubCategory: 4, Name: "Monitor"},
	{Category: 8, Name: "Multimedia Devices"},
	{Category: 8, SubCategory: 1, Name: "Digital Audio Recorder"},
	{Category: 8, SubCategory: 2, Name: "PVR"},
	{Category: 8, SubCategory: 3, Name: "Media Center Extender"},
	{Category: 8, SubCategory: 4, Name: "Set-Top Box"},
	{Category: 8, SubCategory: 5, Name: "Media Server"},
	{Category: 9, Name: "Gaming Devices"},
	{Category: 9, SubCategory: 1, Name: "Xbox"},
	{Category: 9, SubCategory: 4, Name: "Game Console"},
	{Category: 10, Name: "Telephone"},
	{Category: 10, SubCategory: 1, Name: "Windows Mobile"},
	{Category: 10, SubCategory: 4, Name: "Smartphone"},
	{Category: 11, Name: "Audio Devices"},
	{Category: 11, SubCategory: 1, Name: "Audio Tuner/Receiver"},
	{Category: 11, SubCategory: 2, Name: "Speakers"},
	{Category: 11, SubCategory: 4, Name: "Headset"},
	{Category: 11, SubCategory: 5, Name: "Headphones"},
	{Category: 12, Name: "Docking Devices"},
	{Category: 255, Name: "Others"},
}
