package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	anilistAnimeURL = "https://anilist.co/anime/"
	malAnimeURL     = "https://myanimelist.net/anime/"
	thumbnailURL    = "https://trace.moe/thumbnail.php"
	previewURL      = "https://trace.moe/preview.php"
)

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Image  string  `json:"image"`
	Filter *uint32 `json:"filter,omitempty"` // AniList ID
}

// NewSearchRequest base64-encodes raw image bytes into a SearchRequest.
func NewSearchRequest(image []byte) *SearchRequest {
	return &SearchRequest{
		Image: base64.StdEncoding.EncodeToString(image),
	}
}

// Limit is the short-period rate limit. Usually resets every minute.
type Limit struct {
	Limit    uint32 `json:"limit"`     // requests remaining in the period
	LimitTTL uint32 `json:"limit_ttl"` // seconds until reset
}

// ResetIn returns the time until the limit resets.
func (l Limit) ResetIn() time.Duration {
	return time.Duration(l.LimitTTL) * time.Second
}

// Quota is the long-period request quota. Usually resets every day.
type Quota struct {
	Quota    uint32 `json:"quota"`     // requests remaining in the quota
	QuotaTTL uint32 `json:"quota_ttl"` // seconds until reset
}

// ResetIn returns the time until the quota resets.
func (q Quota) ResetIn() time.Duration {
	return time.Duration(q.QuotaTTL) * time.Second
}

// UserLimit is the account's maximum rate limit.
type UserLimit struct {
	UserLimit    uint32 `json:"user_limit"`     // requests per limit period
	UserLimitTTL uint32 `json:"user_limit_ttl"` // seconds between resets
}

// UserQuota is the account's maximum quota.
type UserQuota struct {
	UserQuota    uint32 `json:"user_quota"`     // requests per quota period
	UserQuotaTTL uint32 `json:"user_quota_ttl"` // seconds between resets
}

// SearchResponse is the response from POST /search.
// Limit and Quota are embedded so their fields decode from the top level.
type SearchResponse struct {
	RawDocsCount      uint32 `json:"RawDocsCount"`      // frames searched
	RawDocsSearchTime uint64 `json:"RawDocsSearchTime"` // ms retrieving frames, summed over cores
	ReRankSearchTime  uint64 `json:"ReRankSearchTime"`  // ms comparing frames, summed over cores
	CacheHit          bool   `json:"CacheHit"`
	Trial             uint32 `json:"trial"`
	Limit
	Quota
	Docs []Doc `json:"docs"`
}

// Keys the server always sends. Anything else may be absent or null.
var (
	searchResponseFields = []string{
		"RawDocsCount", "RawDocsSearchTime", "ReRankSearchTime", "CacheHit", "trial",
		"limit", "limit_ttl", "quota", "quota_ttl", "docs",
	}
	docFields = []string{
		"from", "to", "at", "similarity", "anilist_id", "is_adult", "title_romaji",
		"synonyms", "synonyms_chinese", "filename", "tokenthumb",
	}
	meFields = []string{
		"email", "limit", "limit_ttl", "quota", "quota_ttl",
		"user_limit", "user_limit_ttl", "user_quota", "user_quota_ttl",
	}
)

// UnmarshalJSON rejects bodies missing any required field.
func (r *SearchResponse) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, searchResponseFields); err != nil {
		return fmt.Errorf("search response: %w", err)
	}
	type plain SearchResponse
	return json.Unmarshal(data, (*plain)(r))
}

// Best returns the highest-ranked match, or nil when there are none.
// The server sends docs already ordered by similarity.
func (r *SearchResponse) Best() *Doc {
	if r == nil || len(r.Docs) == 0 {
		return nil
	}
	return &r.Docs[0]
}

// Doc is a single matched scene.
type Doc struct {
	From            float64  `json:"from"`
	To              float64  `json:"to"`
	At              float64  `json:"at"`
	Similarity      float64  `json:"similarity"`
	AnilistID       uint32   `json:"anilist_id"`
	MalID           *uint32  `json:"mal_id"`
	IsAdult         bool     `json:"is_adult"`
	TitleNative     *string  `json:"title_native"`
	TitleChinese    *string  `json:"title_chinese"`
	TitleEnglish    *string  `json:"title_english"`
	TitleRomaji     string   `json:"title_romaji"`
	Synonyms        []string `json:"synonyms"`
	SynonymsChinese []string `json:"synonyms_chinese"`
	Filename        string   `json:"filename"`
	TokenThumb      string   `json:"tokenthumb"`
}

// UnmarshalJSON rejects docs missing any required field.
func (d *Doc) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, docFields); err != nil {
		return fmt.Errorf("doc: %w", err)
	}
	type plain Doc
	return json.Unmarshal(data, (*plain)(d))
}

// DisplayTitle prefers the English title and falls back to the romanized one.
func (d Doc) DisplayTitle() string {
	if d.TitleEnglish != nil && *d.TitleEnglish != "" {
		return *d.TitleEnglish
	}
	return d.TitleRomaji
}

// AniListURL returns the AniList page of the matched anime.
func (d Doc) AniListURL() string {
	return anilistAnimeURL + strconv.FormatUint(uint64(d.AnilistID), 10)
}

// MyAnimeListURL returns the MyAnimeList page, or "" if the match has no MAL ID.
func (d Doc) MyAnimeListURL() string {
	if d.MalID == nil {
		return ""
	}
	return malAnimeURL + strconv.FormatUint(uint64(*d.MalID), 10)
}

// ThumbnailURL returns the scene thumbnail image URL.
func (d Doc) ThumbnailURL() string {
	return d.mediaURL(thumbnailURL)
}

// PreviewURL returns the short scene video preview URL.
func (d Doc) PreviewURL() string {
	return d.mediaURL(previewURL)
}

func (d Doc) mediaURL(base string) string {
	q := url.Values{}
	q.Set("anilist_id", strconv.FormatUint(uint64(d.AnilistID), 10))
	q.Set("file", d.Filename)
	q.Set("t", strconv.FormatFloat(d.At, 'f', -1, 64))
	q.Set("token", d.TokenThumb)
	return base + "?" + q.Encode()
}

// Timestamp formats At as hh:mm:ss.
func (d Doc) Timestamp() string {
	total := int(d.At)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// Me is the response from GET /me.
type Me struct {
	UserID *uint32 `json:"user_id"` // nil for anonymous (IP-based) access
	Email  string  `json:"email"`   // email, or the caller's IP when anonymous
	Limit
	Quota
	UserLimit
	UserQuota
}

// UnmarshalJSON rejects bodies missing any required field.
func (m *Me) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, meFields); err != nil {
		return fmt.Errorf("me: %w", err)
	}
	type plain Me
	return json.Unmarshal(data, (*plain)(m))
}

// LimitUsed returns how many requests of the current limit period were used.
func (m Me) LimitUsed() uint32 {
	if m.Limit.Limit > m.UserLimit.UserLimit {
		return 0
	}
	return m.UserLimit.UserLimit - m.Limit.Limit
}

// QuotaUsed returns how many requests of the current quota were used.
func (m Me) QuotaUsed() uint32 {
	if m.Quota.Quota > m.UserQuota.UserQuota {
		return 0
	}
	return m.UserQuota.UserQuota - m.Quota.Quota
}

// QuotaUsagePercent returns quota utilization in [0, 100].
func (m Me) QuotaUsagePercent() float64 {
	if m.UserQuota.UserQuota == 0 {
		return 0
	}
	return float64(m.QuotaUsed()) * 100 / float64(m.UserQuota.UserQuota)
}

// ParseSearchResponse parses raw JSON bytes into a SearchResponse.
func ParseSearchResponse(data []byte) (*SearchResponse, error) {
	var resp SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseMe parses raw JSON bytes into a Me.
func ParseMe(data []byte) (*Me, error) {
	var me Me
	if err := json.Unmarshal(data, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// requireFields checks that data is a JSON object holding every key with a
// non-null value.
func requireFields(data []byte, keys []string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj == nil {
		return errors.New("expected an object, got null")
	}
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			return fmt.Errorf("missing field %q", key)
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return fmt.Errorf("field %q is null", key)
		}
	}
	return nil
}
