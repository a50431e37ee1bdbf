package state

// Height returns the persisted logical clock.
func (m *Manager) Height() (uint64, error) {
	var height uint64
	if _, err := m.KVGet(chainHeightKey, &height); err != nil {
		return 0, err
	}
	return height, nil
}

func (m *Manager) SetHeight(height uint64) error {
	return m.KVPut(chainHeightKey, height)
}

// GenesisApplied reports whether the genesis allocation was already written.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.KVGet(chainGenesisAppliedKey, nil)
}

func (m *Manager) MarkGenesisApplied() error {
	return m.KVPut(chainGenesisAppliedKey, true)
}
