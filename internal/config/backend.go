package config

// ConfigBackend is the platform-native key/value store behind Load, SetKey
// and UnsetKey. On macOS it is UserDefaults driven through the `defaults`
// CLI; elsewhere it is a JSON file under the XDG config directory. Getters
// report ok=false for keys the store has never seen, so defaults apply.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
