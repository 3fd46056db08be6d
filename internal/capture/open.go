package capture

import "context"

// Open picks a source by location: empty means a synthetic tone, ssh://
// URLs are fetched with the credentials in creds, anything else is a local
// path.
func Open(ctx context.Context, location string, creds RemoteConfig, synth SyntheticConfig) (*Cyclic, error) {
	switch {
	case location == "":
		return NewSynthetic(synth)
	case IsRemote(location):
		cfg, err := ParseRemote(location)
		if err != nil {
			return nil, err
		}
		cfg.Password = creds.Password
		cfg.KeyPath = creds.KeyPath
		if cfg.User == "" {
			cfg.User = creds.User
		}
		return OpenRemote(ctx, cfg)
	default:
		return OpenFile(location)
	}
}
