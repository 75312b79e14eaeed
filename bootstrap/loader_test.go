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
package bootstrap

import (
	"testing"

	"github.com/launix-de/redocap/schema"
)

func TestObjIDAllocatorStable(t *testing.T) {
	a := newObjIDAllocator()
	first := a.id("hr.emp")
	again := a.id("hr.emp")
	other := a.id("hr.dept")
	if first != again {
		t.Fatalf("same name must map to the same id: %d != %d", first, again)
	}
	if first == other {
		t.Fatalf("distinct names must map to distinct ids")
	}
}

func TestMySQLColumnTypeMapping(t *testing.T) {
	cases := map[string]schema.ColumnType{
		"int":     schema.TypeNumber,
		"decimal": schema.TypeNumber,
		"date":    schema.TypeDate,
		"char":    schema.TypeChar,
		"blob":    schema.TypeRaw,
		"varchar": schema.TypeVarchar2,
	}
	for in, want := range cases {
		if got := mysqlColumnType(in); got != want {
			t.Errorf("mysqlColumnType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPostgresColumnTypeMapping(t *testing.T) {
	cases := map[string]schema.ColumnType{
		"integer": schema.TypeNumber,
		"numeric": schema.TypeNumber,
		"date":    schema.TypeDate,
		"bytea":   schema.TypeRaw,
		"text":    schema.TypeVarchar2,
	}
	for in, want := range cases {
		if got := postgresColumnType(in); got != want {
			t.Errorf("postgresColumnType(%q) = %v, want %v", in, got, want)
		}
	}
}
