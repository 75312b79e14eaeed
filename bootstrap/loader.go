/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package bootstrap loads the initial schema dictionary from the source
// database's own catalog (§4.3: "loaded once at startup from the ten
// catalog tables") so replay never has to guess column layouts for tables
// that existed before capture began. Grounded on storage/mysql_import.go's
// database/sql usage: a context-bounded connection, information_schema
// queries, one row scanned at a time into engine-native types — the
// difference here is that rows become schema.BootstrapRow values for
// schema.Dictionary.Load instead of storage table inserts.
package bootstrap

import "github.com/launix-de/redocap/schema"

// Loader produces the full set of BootstrapRow values schema.Dictionary.Load
// needs to construct the catalog as of replay start.
type Loader interface {
	Load() ([]schema.BootstrapRow, error)
}

// objIDAllocator assigns this engine's own dense ObjID space to source
// tables that carry no such identifier themselves (MySQL and Postgres
// catalogs key tables by name, not by a stable integer): §4.3 only
// requires ObjID to be stable for the lifetime of one replay process, not
// to match any source-side numbering.
type objIDAllocator struct {
	next uint32
	ids  map[string]uint32
}

func newObjIDAllocator() *objIDAllocator {
	return &objIDAllocator{next: 1, ids: make(map[string]uint32)}
}

func (a *objIDAllocator) id(qualifiedName string) uint32 {
	if id, ok := a.ids[qualifiedName]; ok {
		return id
	}
	id := a.next
	a.next++
	a.ids[qualifiedName] = id
	return id
}
