// wasession - a session and identity layer for WhatsApp-style end-to-end encryption.
// Copyright (C) 2025 Tulir Asokan
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package store

import (
	"context"

	"go.mau.fi/util/dbutil"
)

// UpgradeTable contains the SQL schema migrations for SQLStore.
var UpgradeTable dbutil.UpgradeTable

func init() {
	UpgradeTable.Register(-1, 1, 0, "Latest revision", dbutil.TxnModeOn, func(ctx context.Context, db *dbutil.Database) error {
		_, err := db.Exec(ctx, `CREATE TABLE wasession_record (
			kind   TEXT  NOT NULL,
			id     TEXT  NOT NULL,
			record bytea NOT NULL,

			PRIMARY KEY (kind, id)
		)`)
		return err
	})
}
