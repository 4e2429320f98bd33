package crypt

import (
	"fmt"
	"strings"
)

// Permissions holds the user access permission flags of /P. Bit positions
// follow the PDF numbering (bit 1 is the least significant).
type Permissions uint32

const (
	PermPrint            Permissions = 1 << 2  // bit 3
	PermModify           Permissions = 1 << 3  // bit 4
	PermCopy             Permissions = 1 << 4  // bit 5
	PermAnnotate         Permissions = 1 << 5  // bit 6
	PermFillForms        Permissions = 1 << 8  // bit 9
	PermAccessibility    Permissions = 1 << 9  // bit 10
	PermAssemble         Permissions = 1 << 10 // bit 11
	PermPrintHighQuality Permissions = 1 << 11 // bit 12

	PermAll = PermPrint | PermModify | PermCopy | PermAnnotate |
		PermFillForms | PermAccessibility | PermAssemble | PermPrintHighQuality

	// reserved bits 7-8 and 13-32 are written as 1, bits 1-2 as 0
	permReservedOnes = 0xFFFFF0C0
)

var permissionNames = []struct {
	flag Permissions
	name string
}{
	{PermPrint, "print"},
	{PermModify, "modify"},
	{PermCopy, "copy"},
	{PermAnnotate, "annotate"},
	{PermFillForms, "fill-forms"},
	{PermAccessibility, "accessibility"},
	{PermAssemble, "assemble"},
	{PermPrintHighQuality, "print-high-quality"},
}

// PermissionsFromWire extracts the defined flags from a /P value.
func PermissionsFromWire(p int32) Permissions {
	return Permissions(uint32(p)) & PermAll
}

// Wire returns the signed /P value with reserved bits normalised.
func (p Permissions) Wire() int32 {
	return int32((uint32(p&PermAll) | permReservedOnes) &^ 3)
}

// Has reports whether every flag in q is granted.
func (p Permissions) Has(q Permissions) bool {
	return p&q == q
}

func (p Permissions) String() string {
	var names []string
	for _, pn := range permissionNames {
		if p.Has(pn.flag) {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParsePermissions converts flag names ("print", "copy", ...) into
// Permissions. "all" and "none" are accepted.
func ParsePermissions(names []string) (Permissions, error) {
	var p Permissions
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case "all":
			p |= PermAll
			continue
		case "none":
			continue
		}
		found := false
		for _, pn := range permissionNames {
			if pn.name == name {
				p |= pn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown permission %q", raw)
		}
	}
	return p, nil
}
