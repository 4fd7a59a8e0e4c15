package config

import "testing"

// FuzzParse feeds malformed documents to the loader; it must return an
// error instead of panicking.
func FuzzParse(f *testing.F) {
	f.Add([]byte(`
logging: {level: debug, format: json}
metrics: {listen: "127.0.0.1:9477"}
links:
  - name: main
    sources: [{local_port: 12345}]
    destinations: [{remote_address: 127.0.0.1, remote_port: 12345}]
    filters:
      - {kind: Delay, param1: 1000}
      - {kind: Append, param1: '\r\n'}
`))
	f.Add([]byte(""))
	f.Add([]byte("{}"))
	f.Add([]byte("[]"))
	f.Add([]byte("null"))
	f.Add([]byte("---"))
	f.Add([]byte("links: [{filters: [{param1: {a: b}}]}]"))
	f.Add([]byte("links:\n  - sources:\n      - local_port: -1\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		cfg, err := Parse(data)
		if err != nil {
			return
		}
		for _, l := range cfg.Links {
			if l.Name == "" || l.TestEncoding == "" {
				t.Fatalf("defaults not applied: %+v", l)
			}
		}
	})
}
