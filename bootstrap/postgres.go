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

	_ "github.com/lib/pq"

	"github.com/launix-de/redocap/schema"
)

// PostgresLoader mirrors MySQLLoader's shape over lib/pq's database/sql
// driver instead of go-sql-driver/mysql: same connect-query-scan pattern,
// different catalog views (information_schema plus
// information_schema.table_constraints for primary keys, since Postgres
// exposes COLUMN_KEY nowhere).
type PostgresLoader struct {
	Host, User, Password, Database, SSLMode string
	Port                                     int
	Timeout                                  time.Duration
}

func (l *PostgresLoader) Load() ([]schema.BootstrapRow, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sslmode := l.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		l.Host, l.Port, l.User, l.Password, l.Database, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	pkCols, err := postgresPrimaryKeyColumns(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
SELECT table_name, column_name, ordinal_position, data_type, is_nullable,
       character_maximum_length, numeric_precision, numeric_scale
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alloc := newObjIDAllocator()
	var out []schema.BootstrapRow
	for rows.Next() {
		var table, column, dataType, isNullable string
		var ordinal int
		var charMax, numPrec, numScale sql.NullInt64
		if err := rows.Scan(&table, &column, &ordinal, &dataType, &isNullable, &charMax, &numPrec, &numScale); err != nil {
			return nil, err
		}

		objID := alloc.id(l.Database + "." + table)
		col := schema.Column{
			Name:     column,
			Ordinal:  ordinal - 1,
			Type:     postgresColumnType(dataType),
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
		if pos, ok := pkCols[table+"."+column]; ok {
			col.PKOrdinal = pos
		}

		out = append(out, schema.BootstrapRow{Table: "objects", ObjID: objID, DataObjID: objID, Owner: l.Database, Name: table})
		out = append(out, schema.BootstrapRow{Table: "columns", ObjID: objID, DataObjID: objID, Owner: l.Database, Name: table, Column: col})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func postgresPrimaryKeyColumns(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `
SELECT tc.table_name, kcu.column_name, kcu.ordinal_position
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var table, column string
		var pos int
		if err := rows.Scan(&table, &column, &pos); err != nil {
			return nil, err
		}
		out[table+"."+column] = pos
	}
	return out, rows.Err()
}

func postgresColumnType(dataType string) schema.ColumnType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "numeric", "decimal", "real", "double precision":
		return schema.TypeNumber
	case "date", "timestamp without time zone", "timestamp with time zone":
		return schema.TypeDate
	case "character":
		return schema.TypeChar
	case "bytea":
		return schema.TypeRaw
	default:
		return schema.TypeVarchar2
	}
}
