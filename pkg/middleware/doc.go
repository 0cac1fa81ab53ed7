// Package middleware provides the bot-score HTTP middleware and client IP
// extraction.
//
// # Bot Scoring
//
// BotScorer keeps per-IP state in a bounded LRU cache. Each page request
// (not /static/ or /api/) updates a score from 0 to 10:
//
//	more than 20 requests in 10s and gap < 250ms  -> score + 1
//	10 consecutive normal requests                -> score - 1
//	POST /api/login followed by GET /login        -> score = 10
//
// A score of 10 is answered with 403. Scores of 5 or more delay the request
// by score x 100ms. /robots.txt is always served.
//
//	scorer, err := middleware.NewBotScorer(middleware.DefaultBotConfig(),
//		middleware.WithBotMetrics(metrics),
//		middleware.WithBotLogger(logger),
//	)
//	handler = scorer.Handler(handler)
//
// This is a best-effort heuristic, not a security boundary. State is lost
// on restart and not shared between instances.
package middleware
