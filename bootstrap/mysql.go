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
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/launix-de/redocap/schema"
)

// MySQLLoader opens the source database over database/sql the same way
// storage/mysql_import.go's openMySQL does, and turns its
// information_schema.COLUMNS rows into BootstrapRow values instead of
// CREATE TABLE calls.
type MySQLLoader struct {
	Host, User, Password, Database string
	Port                           int
	Timeout                        time.Duration
}

func (l *MySQLLoader) Load() ([]schema.BootstrapRow, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", l.Host, l.Port)
	dsn := l.User
	if l.Password != "" {
		dsn += ":" + l.Password
	}
	dsn += "@tcp(" + addr + ")/" + l.Database + "?parseTime=true"

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
SELECT TABLE_NAME, COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE, IS_NULLABLE,
       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, COLUMN_KEY
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA=?
ORDER BY TABLE_NAME, ORDINAL_POSITION`, l.Database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alloc := newObjIDAllocator()
	var out []schema.BootstrapRow
	pkOrdinal := make(map[string]int)
	for rows.Next() {
		var table, column, dataType, isNullable, columnKey string
		var ordinal int
		var charMax, numPrec, numScale sql.NullInt64
		if err := rows.Scan(&table, &column, &ordinal, &dataType, &isNullable, &charMax, &numPrec, &numScale, &columnKey); err != nil {
			return nil, err
		}

		objID := alloc.id(l.Database + "." + table)
		col := schema.Column{
			Name:     column,
			Ordinal:  ordinal - 1,
			Type:     mysqlColumnType(dataType),
			Nullable: strings.EqualFold(isNullable, "YES"),
		}
		if charMax.Valid {
			col.Length = int(charMax.Int64)
		}
		if numPrec.Valid {
			col.Precision = int(numPrec.Int64)
		}
		if numScale.Valid {
			col.Scale = int(numScale.Int64)
		}
		if columnKey == "PRI" {
			pkOrdinal[table]++
			col.PKOrdinal = pkOrdinal[table]
		}

		out = append(out, schema.BootstrapRow{Table: "objects", ObjID: objID, DataObjID: objID, Owner: l.Database, Name: table})
		out = append(out, schema.BootstrapRow{Table: "columns", ObjID: objID, DataObjID: objID, Owner: l.Database, Name: table, Column: col})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mysqlColumnType maps an information_schema DATA_TYPE onto this engine's
// ColumnType codes. There is no source-side equivalent of the physical
// type codes §4.3 expects, so this is this engine's own convention, held
// in one place for bootstrap/postgres.go to mirror.
func mysqlColumnType(dataType string) schema.ColumnType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "decimal", "numeric", "float", "double":
		return schema.TypeNumber
	case "date", "datetime", "timestamp":
		return schema.TypeDate
	case "char":
		return schema.TypeChar
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return schema.TypeRaw
	default:
		return schema.TypeVarchar2
	}
}
