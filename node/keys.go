package node

// AddressKeyPair is deterministic key material used by the block-generation
// convenience helpers.
type AddressKeyPair struct {
	Address string
	Key     string
}

// Fixed table of per-slot key material. Static configuration data: the
// pair a node uses depends only on its index unless explicitly overridden.
var deterministicKeys = [...]AddressKeyPair{
	{"2doncj41FX6LahE2aspuLuQcnmgrLtfvvma", "cQ1PxVTn5J3qCzUqXzpNeHiPVxZcwwaJkFmZcokescXwmHWAdBoe"},
	{"2dv4oTKjmi3TF6dRq2TmasMdNtTeuqHNcPb", "cRuGzyZjb5zQQg1TbAiGK1UJBuK1UQHaFf4DXBUcPZNZ3WomNoxW"},
	{"2drNifUyWj5D8UPrAJtuQjUyPSUYpE4gb7E", "cSYxv1JKDNrSKnm2fzNj1uFUkr7HqTQHvU8PCAZ1mWNwYB5LwZVu"},
	{"2dwTDXu4QLFG61upW7wkRLbkUxDRYuRmnAd", "cQLvSojQFLkikwuzhSkKPv9REWpCDNhvGiG5hjutYPQj4HT8GnJy"},
	{"2doqDLuXpHx3x6Bd9bBAWxRzzKZCXTbSCWE", "cNkbdkyQ9RX3Yrp4oFACs4p4iiyBxoC3pL7zioGKSzmvyLbiR4Rm"},
	{"2dktmJxjtpKEftBKFaGBUCW7wsUEBGeuoSi", "cSCCVU7iUXMNnqrHPeVxHEgG48TsyNwd3FAsS2hjTYKdTSNDXJXV"},
	{"2dxjmBn21SQjhffXzzi1hz5nKA4quM7jtsT", "cVpzWr59KE7DsWaSJkySSPSvkrr6huUsjYBF3wcwCMhW4cEPNmU1"},
	{"2dpFhgNeWqm7LVbvZo29bvXPEzwWTVfzVSY", "cRPF2Kfm21BWf3GPHMKGGMQN1a6sNJPGsyYSz8VWQhsoVUr42q4r"},
	{"2df8FzAJJtPcHsvXYRh4BTmnhSUUVE5zNhE", "cU9yBKyGyRNBpzSmVavoh9szgaFUjKbPG9P3CPtycXAxmdwnKxiL"},
}

// SetDeterministicPrivKey overrides the table entry for this node.
// Set-before-use only; the override is immutable in spirit and intended
// for nodes whose slot lies outside the fixed table.
func (n *Node) SetDeterministicPrivKey(address, key string) {
	n.detKey = &AddressKeyPair{Address: address, Key: key}
}

// DeterministicPrivKey returns the node's address/private-key pair: the
// explicit override if one was set, otherwise the fixed table entry for
// the node's index.
func (n *Node) DeterministicPrivKey() (AddressKeyPair, error) {
	if n.detKey != nil {
		n.log.Debug("using deterministic key override")
		return *n.detKey, nil
	}
	if n.cfg.Index < 0 || n.cfg.Index >= len(deterministicKeys) {
		return AddressKeyPair{}, n.errorf("no deterministic key for index %d", n.cfg.Index)
	}
	return deterministicKeys[n.cfg.Index], nil
}
