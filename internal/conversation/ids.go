package conversation

import "github.com/oklog/ulid/v2"

// newID mints a stable, globally-unique-within-a-conversation event id
// (§3: "ids are globally unique within a conversation").
func newID() string {
	return ulid.Make().String()
}
