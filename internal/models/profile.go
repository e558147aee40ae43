package models

// Profile roles.
const (
	RoleBuyer  = "buyer"
	RoleJockey = "jockey"
)

// Profile is a user's public profile.
type Profile struct {
	ID              string          `json:"id"`
	Username        string          `json:"username"`
	Name            string          `json:"name"`
	Role            string          `json:"role"`
	ProfileImageURL string          `json:"profile_image_url,omitempty"`
	Bio             string          `json:"bio,omitempty"`
	JockeyServices  []JockeyService `json:"jockey_services,omitempty"`
}

// JockeyService is a rank-boosting offer listed on a jockey's profile.
type JockeyService struct {
	Game     string `json:"game"`
	FromRank string `json:"from_rank"`
	ToRank   string `json:"to_rank"`
	Price    int64  `json:"price"`
}

// Follow is an edge in the follow graph.
type Follow struct {
	FollowerID  string `json:"follower_id"`
	FollowingID string `json:"following_id"`
}

// FollowStats summarises a profile's place in the follow graph.
type FollowStats struct {
	Followers int `json:"followers_count"`
	Following int `json:"following_count"`

	// ViewerFollows is true when the requesting user follows this profile
	ViewerFollows bool `json:"is_following"`
}

// ProfileResponse is the response for viewing a profile
type ProfileResponse struct {
	Profile Profile     `json:"profile"`
	Stats   FollowStats `json:"stats"`
}
