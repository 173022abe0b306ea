package models

// PeerInfo describes a peer currently considered present.
type PeerInfo struct {
	Name   string `json:"name"`
	Direct bool   `json:"direct"`
}
