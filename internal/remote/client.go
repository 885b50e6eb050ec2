// Package remote observes linked streaming accounts. The client pages
// through the account's followed artists, their albums and the album
// tracks, and reports them as one observation batch keyed by the
// provider's native ids.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

// refreshMargin is how long before expiry a token already counts as
// stale; a token that expires mid-page-walk is no use.
const refreshMargin = 30 * time.Second

// CredentialStore persists refreshed credentials. *catalog.Store
// satisfies it. A refresh that is not persisted did not happen: the old
// refresh token may already be invalid at the provider.
type CredentialStore interface {
	UpdateSourceCredentials(id int64, cred source.RemoteConfig) error
}

// Config holds remote client configuration
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// PageLimit is the page size used for every listing endpoint.
	PageLimit int
	// RequestsPerSecond throttles outgoing calls to the provider.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Retry      *util.RetryConfig
}

// Client talks to one remote streaming provider
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	pageLimit    int

	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *util.RetryConfig
	store      CredentialStore
}

// New creates a remote client persisting refreshed credentials to store
func New(cfg *Config, store CredentialStore) *Client {
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 50
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retry := cfg.Retry
	if retry == nil {
		retry = util.RemoteRetryConfig()
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		pageLimit:    pageLimit,
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		retry:        retry,
		store:        store,
	}
}

// EnsureFreshCredential returns a usable access token, refreshing and
// persisting the credential first when it is expired or about to be.
func (c *Client) EnsureFreshCredential(ctx context.Context, src *source.Source) (string, error) {
	if src.Remote == nil {
		return "", fmt.Errorf("%w: source %d has no remote credential", util.ErrInvalidConfig, src.ID)
	}
	cred := src.Remote

	if cred.AccessToken != "" && time.Until(cred.TokenExpiry) > refreshMargin {
		return cred.AccessToken, nil
	}

	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.tokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) &&
			(retrieveErr.Response.StatusCode == http.StatusUnauthorized ||
				retrieveErr.Response.StatusCode == http.StatusForbidden ||
				retrieveErr.Response.StatusCode == http.StatusBadRequest) {
			return "", fmt.Errorf("token refresh rejected: %w", util.ErrAuthRevoked)
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	refreshed := source.RemoteConfig{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
	}
	if refreshed.RefreshToken == "" {
		// Providers may omit the refresh token when it is unchanged.
		refreshed.RefreshToken = cred.RefreshToken
	}

	// Persist before first use; see CredentialStore.
	if err := c.store.UpdateSourceCredentials(src.ID, refreshed); err != nil {
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	*cred = refreshed

	util.DebugLog("Refreshed credential for source %d, valid until %s", src.ID, refreshed.TokenExpiry)
	return refreshed.AccessToken, nil
}

// Observe fetches the account's full catalog view: followed artists,
// their albums, the album tracks.
func (c *Client) Observe(ctx context.Context, src *source.Source) (*source.Batch, error) {
	token, err := c.EnsureFreshCredential(ctx, src)
	if err != nil {
		return nil, err
	}

	batch := &source.Batch{SourceID: src.ID, Kind: src.Kind}

	artists, err := c.fetchFollowedArtists(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch followed artists: %w", err)
	}

	seenArtists := make(map[string]bool)
	for _, artist := range artists {
		if seenArtists[artist.ID] {
			continue
		}
		seenArtists[artist.ID] = true
		batch.Artists = append(batch.Artists, source.Artist{Key: artist.ID, Name: artist.Name})
	}

	seenAlbums := make(map[string]bool)
	for _, artist := range artists {
		albums, err := c.fetchArtistAlbums(ctx, token, artist.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch albums of artist %s: %w", artist.ID, err)
		}

		for _, album := range albums {
			if seenAlbums[album.ID] {
				continue
			}
			seenAlbums[album.ID] = true

			observed := source.Album{Key: album.ID, Name: album.Name}
			for _, albumArtist := range album.Artists {
				if !seenArtists[albumArtist.ID] {
					seenArtists[albumArtist.ID] = true
					batch.Artists = append(batch.Artists, source.Artist{Key: albumArtist.ID, Name: albumArtist.Name})
				}
				observed.ArtistKeys = append(observed.ArtistKeys, albumArtist.ID)
			}
			batch.Albums = append(batch.Albums, observed)

			tracks, err := c.fetchAlbumTracks(ctx, token, album.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch tracks of album %s: %w", album.ID, err)
			}
			for _, track := range tracks {
				observedTrack := source.Track{
					Key:         track.ID,
					NativeID:    track.ID,
					AlbumKey:    album.ID,
					Title:       track.Name,
					DiscNumber:  track.DiscNumber,
					TrackNumber: track.TrackNumber,
				}
				for _, trackArtist := range track.Artists {
					if !seenArtists[trackArtist.ID] {
						seenArtists[trackArtist.ID] = true
						batch.Artists = append(batch.Artists, source.Artist{Key: trackArtist.ID, Name: trackArtist.Name})
					}
					observedTrack.ArtistKeys = append(observedTrack.ArtistKeys, trackArtist.ID)
				}
				batch.Tracks = append(batch.Tracks, observedTrack)
			}
		}
	}

	util.InfoLog("Remote source %d reports %d artists, %d albums, %d tracks",
		src.ID, len(batch.Artists), len(batch.Albums), len(batch.Tracks))

	return batch, nil
}

// apiArtist / apiAlbum / apiTrack mirror the provider's wire objects
type apiArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type apiAlbum struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []apiArtist `json:"artists"`
}

type apiTrack struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DiscNumber  int         `json:"disc_number"`
	TrackNumber int         `json:"track_number"`
	Artists     []apiArtist `json:"artists"`
}

// fetchFollowedArtists pages with a cursor: each page names the cursor
// the next one starts after.
func (c *Client) fetchFollowedArtists(ctx context.Context, token string) ([]apiArtist, error) {
	var artists []apiArtist
	after := ""

	for {
		query := url.Values{"type": {"artist"}, "limit": {fmt.Sprintf("%d", c.pageLimit)}}
		if after != "" {
			query.Set("after", after)
		}

		var page struct {
			Artists struct {
				Items   []apiArtist `json:"items"`
				Cursors struct {
					After string `json:"after"`
				} `json:"cursors"`
			} `json:"artists"`
		}
		if err := c.get(ctx, token, "/me/following", query, &page); err != nil {
			return nil, err
		}

		artists = append(artists, page.Artists.Items...)
		if page.Artists.Cursors.After == "" || len(page.Artists.Items) == 0 {
			return artists, nil
		}
		after = page.Artists.Cursors.After
	}
}

// fetchArtistAlbums pages with offset/total.
func (c *Client) fetchArtistAlbums(ctx context.Context, token, artistID string) ([]apiAlbum, error) {
	var albums []apiAlbum

	for offset := 0; ; {
		var page struct {
			Items []apiAlbum `json:"items"`
			Total int        `json:"total"`
		}
		query := url.Values{
			"limit":  {fmt.Sprintf("%d", c.pageLimit)},
			"offset": {fmt.Sprintf("%d", offset)},
		}
		if err := c.get(ctx, token, "/artists/"+artistID+"/albums", query, &page); err != nil {
			return nil, err
		}

		albums = append(albums, page.Items...)
		offset += len(page.Items)
		if offset >= page.Total || len(page.Items) == 0 {
			return albums, nil
		}
	}
}

func (c *Client) fetchAlbumTracks(ctx context.Context, token, albumID string) ([]apiTrack, error) {
	var tracks []apiTrack

	for offset := 0; ; {
		var page struct {
			Items []apiTrack `json:"items"`
			Total int        `json:"total"`
		}
		query := url.Values{
			"limit":  {fmt.Sprintf("%d", c.pageLimit)},
			"offset": {fmt.Sprintf("%d", offset)},
		}
		if err := c.get(ctx, token, "/albums/"+albumID+"/tracks", query, &page); err != nil {
			return nil, err
		}

		tracks = append(tracks, page.Items...)
		offset += len(page.Items)
		if offset >= page.Total || len(page.Items) == 0 {
			return tracks, nil
		}
	}
}

// get performs one rate-limited, retried GET and decodes the response.
// 429 and 5xx responses are retried with backoff; 401/403 means the
// account's grant is gone and the sync must stop.
func (c *Client) get(ctx context.Context, token, path string, query url.Values, out any) error {
	return util.Retry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", path, err)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("GET %s returned %d: %w", path, resp.StatusCode, util.ErrAuthRevoked)
		default:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("GET %s: %w", path, &util.HTTPStatusError{Status: resp.StatusCode})
		}
	}, "remote GET "+path)
}
