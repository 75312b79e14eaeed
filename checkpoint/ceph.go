//go:build ceph

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
	"path"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephConfig mirrors storage.CephFactory's field set.
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Object      string // full object name, e.g. "redocap/hr/checkpoint.json"
}

// CephStore is grounded on storage/persistence-ceph.go's CephStorage:
// lazy rados.Conn/IOContext construction, WriteFull for atomic overwrite
// (RADOS has no append, so every write replaces the whole object).
type CephStore struct {
	cfg CephConfig

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func NewCephStore(cfg CephConfig) *CephStore {
	return &CephStore{cfg: cfg}
}

func (s *CephStore) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	conn, err := rados.NewConnWithClusterAndUser(s.cfg.ClusterName, s.cfg.UserName)
	if err != nil {
		return err
	}
	if s.cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(s.cfg.ConfFile); err != nil {
			return err
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return err
	}
	ioctx, err := conn.OpenIOContext(s.cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return err
	}
	s.conn, s.ioctx, s.opened = conn, ioctx, true
	return nil
}

func (s *CephStore) Read() (*Checkpoint, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	obj := path.Clean(s.cfg.Object)
	stat, err := s.ioctx.Stat(obj)
	if err != nil {
		return nil, false, nil
	}
	data := make([]byte, stat.Size)
	n, err := s.ioctx.Read(obj, data, 0)
	if err != nil {
		return nil, false, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data[:n], &cp); err != nil {
		return nil, false, err
	}
	return &cp, true, nil
}

func (s *CephStore) Write(cp *Checkpoint) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.ioctx.WriteFull(path.Clean(s.cfg.Object), raw)
}
