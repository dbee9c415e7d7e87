// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"fmt"
	"strconv"
)

// Property is an optional parameter for configuring a store or sequence.
type Property string

// Properties are optional settings which may influence the behavior of a
// store, but do not alter the format of the data it persists. Example
// properties are cache sizes or the durability of individual writes.
type Properties map[Property]string

// GetInteger is a utility function for Properties to retrieve numeric values.
func (p *Properties) GetInteger(name Property, fallback int) (int, error) {
	if value, found := (*p)[name]; found {
		res, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid value for '%s' property: %v", name, value)
		}
		return res, nil
	}
	return fallback, nil
}

// SetInteger is a utility function for Properties to set numeric values.
func (p *Properties) SetInteger(name Property, value int) {
	p.set(name, strconv.Itoa(value))
}

// GetBool retrieves a boolean property, accepting the spellings of strconv.ParseBool.
func (p *Properties) GetBool(name Property, fallback bool) (bool, error) {
	if value, found := (*p)[name]; found {
		res, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid value for '%s' property: %v", name, value)
		}
		return res, nil
	}
	return fallback, nil
}

// SetBool sets a boolean property.
func (p *Properties) SetBool(name Property, value bool) {
	p.set(name, strconv.FormatBool(value))
}

func (p *Properties) set(name Property, value string) {
	if *p == nil {
		*p = map[Property]string{}
	}
	(*p)[name] = value
}
