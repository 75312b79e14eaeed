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
package checkpoint

import (
	"encoding/json"
	"os"
)

// FileStore keeps a checkpoint.json next to a rescue copy of the previous
// one, the backup-before-overwrite idiom of
// storage/persistence-files.go's WriteSchema: the new document is written in
// full to a .tmp file, the existing file is renamed to .old, and the .tmp
// file is then renamed into place, so a crash mid-write never leaves a
// half-written checkpoint.json.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Read() (*Checkpoint, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			raw, err = os.ReadFile(s.path + ".old")
			if err != nil {
				return nil, false, nil
			}
		} else {
			return nil, false, err
		}
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, false, err
	}
	return &cp, true, nil
}

func (s *FileStore) Write(cp *Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0666); err != nil {
		return err
	}
	if stat, err := os.Stat(s.path); err == nil && stat.Size() > 0 {
		os.Rename(s.path, s.path+".old")
	}
	return os.Rename(tmp, s.path)
}
