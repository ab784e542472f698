package api

import "time"

// Duration is a time.Duration that reads and writes as text ("10m").
type Duration time.Duration

func (dur Duration) MarshalText() ([]byte, error) {
	ds := time.Duration(dur).String()
	return []byte(ds), nil
}

func (dur *Duration) UnmarshalText(d []byte) error {
	p, err := time.ParseDuration(string(d))
	if err != nil {
		return err
	}
	*dur = Duration(p)
	return nil
}
