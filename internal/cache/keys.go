package cache

// Share keys
func KeyShare(id string) string {
	return Key("shares", id)
}
