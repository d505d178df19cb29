package catalog

// Release is a single catalog release, keyed by MBID.
type Release struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Date        string `json:"date"`
	TrackCount  int    `json:"trackCount"`
	CoverArtURL string `json:"coverArtUrl,omitempty"`
}

// ReleaseGroup groups the editions of one logical album, keyed by MBID.
type ReleaseGroup struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	PrimaryType      string `json:"primaryType"`
	FirstReleaseDate string `json:"firstReleaseDate"`
}

// Collection is a user-curated list of releases. Loading one submits
// all member ids to the prefetch scheduler.
type Collection struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Releases []string `json:"releases"`
}
