package model

// Collection is a Pinterest board owned by the linked account.
type Collection struct {
	ID           string
	Name         string
	Description  string
	ItemCount    int
	URL          string
	ThumbnailURL string
	Visibility   string
}

// Item is a single pin inside a board.
type Item struct {
	ID            string
	Title         string
	Description   string
	Link          string
	ImageURL      string
	ImageWidth    int
	ImageHeight   int
	DominantColor string
	CreatedAt     string
}

// ItemPage is one page of a board feed. Cursor is the bookmark for the next
// page and is empty once the provider reports the end of the feed.
type ItemPage struct {
	Items  []Item
	Cursor string
}
