package api

import (
	"fmt"
	"hash/fnv"
)

// Launch crew characters shown on the dashboard while a deployment
// works its way through the pipeline.
var characters = []struct {
	id   string
	name string
}{
	{"nova", "Nova"},
	{"comet", "Comet"},
	{"orbit", "Orbit"},
	{"stella", "Stella"},
	{"cosmo", "Cosmo"},
}

var praiseLines = []string{
	"%s here. %q is a great name for an app. Strapping it to the rocket now.",
	"%s reporting in: %q cleared pre-flight checks. Countdown started.",
	"%s approves. %q is fueled up and heading for the pad.",
	"%s says %q looks flight-ready. Ignition shortly.",
	"%s on deck. %q is in the launch queue; hold tight.",
}

// generatePraise picks a deterministic character and line for a
// subdomain so repeat deploys feel consistent.
func generatePraise(subdomain string) (praise, characterID string) {
	h := fnv.New32a()
	h.Write([]byte(subdomain))
	n := h.Sum32()

	ch := characters[n%uint32(len(characters))]
	line := praiseLines[(n/uint32(len(characters)))%uint32(len(praiseLines))]
	return fmt.Sprintf(line, ch.name, subdomain), ch.id
}
