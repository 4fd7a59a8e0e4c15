package healthz

import (
	"fmt"

	"msgrelay/internal/endpoint"
	"msgrelay/internal/link"
)

// EndpointCheck fails while an enabled endpoint is in the error state. The
// message is the endpoint's last diagnostic.
func EndpointCheck(linkName string, ep *endpoint.Endpoint) Checker {
	return SimpleCheck(linkName+"/"+ep.Name(), func() error {
		info := ep.Info()
		if !info.Enabled {
			return nil
		}
		if info.Status == endpoint.StatusError {
			return fmt.Errorf("%s %s: %s", info.Role, info.Status, info.ReceivedString)
		}
		if !ep.Running() {
			return fmt.Errorf("%s enabled but not running", info.Role)
		}
		return nil
	})
}

// LinkCheckers returns one check per endpoint of every link.
func LinkCheckers(links []*link.Link) []Checker {
	var checks []Checker
	for _, l := range links {
		name := l.Name()
		for _, ep := range l.Sources() {
			checks = append(checks, EndpointCheck(name, ep))
		}
		for _, ep := range l.Destinations() {
			checks = append(checks, EndpointCheck(name, ep))
		}
	}
	return checks
}
