package grader

// Submission is one post as claimed by a miner
type Submission struct {
	PostID    string             `json:"post_id"`
	Content   string             `json:"content"`
	Author    string             `json:"author"`
	Date      int64              `json:"date"`
	Likes     int                `json:"likes"`
	Retweets  int                `json:"retweets"`
	Replies   int                `json:"replies"`
	Followers int                `json:"followers"`
	Tokens    map[string]float64 `json:"tokens"`
	Sentiment float64            `json:"sentiment"`
	Score     float64            `json:"score"`
}
