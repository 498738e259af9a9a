package stories

import "time"

type Story struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Idea      string    `json:"idea"`
	Genre     string    `json:"genre"`
	Tone      string    `json:"tone"`
	Size      int       `json:"size"`
	Text      string    `json:"story"`
	Favorite  bool      `json:"favorite"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStory is the input to Repository.Insert.
type NewStory struct {
	Owner string
	Idea  string
	Genre string
	Tone  string
	Size  int
	Text  string
}

type Stats struct {
	Stories   int `json:"story_count"`
	Favorites int `json:"favorite_count"`
}
