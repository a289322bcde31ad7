package room

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/cardfield/cardfield/internal/surface"
)

// Deck construction and import live outside this core; the server deals
// from a fixed sample set so the sandbox is playable out of the box.
var sampleCards = []struct {
	name     string
	imageRef string
}{
	{"Aurora Drake", "cards/aurora-drake.png"},
	{"Cinder Imp", "cards/cinder-imp.png"},
	{"Gale Sprite", "cards/gale-sprite.png"},
	{"Moss Golem", "cards/moss-golem.png"},
	{"Tide Caller", "cards/tide-caller.png"},
	{"Vault Warden", "cards/vault-warden.png"},
}

func dealCard() surface.Entity {
	c := sampleCards[rand.Intn(len(sampleCards))]
	return surface.Entity{
		ID:       uuid.NewString(),
		Name:     c.name,
		ImageRef: c.imageRef,
	}
}
