package presence

import "math/rand/v2"

var (
	adjectives = []string{
		"Amber", "Brisk", "Calm", "Dusty", "Eager", "Fuzzy", "Gentle", "Hasty",
		"Idle", "Jolly", "Lucky", "Mellow", "Nimble", "Quiet", "Rusty", "Sunny",
	}
	animals = []string{
		"Badger", "Crane", "Dingo", "Falcon", "Gecko", "Heron", "Ibex", "Koala",
		"Lynx", "Marten", "Newt", "Otter", "Puffin", "Raven", "Stoat", "Walrus",
	}
	avatarTokens = []string{
		"badger", "crane", "dingo", "falcon", "gecko", "heron", "ibex", "koala",
		"lynx", "marten", "newt", "otter", "puffin", "raven", "stoat", "walrus",
	}
)

func RandomDisplayName() string {
	return adjectives[rand.IntN(len(adjectives))] + " " + animals[rand.IntN(len(animals))]
}

func RandomAvatarToken() string {
	return avatarTokens[rand.IntN(len(avatarTokens))]
}
