// Package ankiconnect implements store.Store against the AnkiConnect add-on's
// JSON-over-HTTP API.
package ankiconnect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/store"
)

const (
	DefaultURL     = "http://127.0.0.1:8765"
	DefaultVersion = 6
	DefaultTimeout = 10 * time.Second
)

// Client talks to one AnkiConnect endpoint. It is not safe for concurrent use.
type Client struct {
	url     string
	version int
	http    *http.Client
	log     *slog.Logger

	decks map[int64]string // id -> name, refreshed on miss
}

var _ store.Store = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

func WithVersion(v int) Option {
	return func(c *Client) { c.version = v }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a client for the AnkiConnect endpoint at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		version: DefaultVersion,
		http:    &http.Client{Timeout: DefaultTimeout},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// invoke performs one action and decodes its result into out (may be nil).
func (c *Client) invoke(ctx context.Context, action string, params, out any) error {
	body, err := json.Marshal(request{Action: action, Version: c.version, Params: params})
	if err != nil {
		return fmt.Errorf("ankiconnect: encode %s: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ankiconnect: build %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", apperr.ErrStoreUnreachable, err)
	}
	defer resp.Body.Close()
	c.log.Debug("ankiconnect call",
		slog.String("action", action),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: http %d: %s", action, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	if r.Error != nil {
		return remoteError(*r.Error)
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", action, err)
	}
	return nil
}

// remoteError maps AnkiConnect's free-text errors onto sentinels where the
// text is recognisable.
func remoteError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not found"):
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, msg)
	case strings.Contains(lower, "duplicate"):
		return fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, msg)
	}
	return errors.New(msg)
}

// Version returns the AnkiConnect API version and fails when it is older
// than the one the client speaks.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v int
	if err := c.invoke(ctx, "version", nil, &v); err != nil {
		return 0, apperr.StoreError("version", 0, err)
	}
	if v < c.version {
		return v, apperr.StoreError("version", 0, fmt.Errorf("%w: AnkiConnect API %d, need %d", apperr.ErrUnsupported, v, c.version))
	}
	return v, nil
}

func (c *Client) ActiveProfile(ctx context.Context) (string, error) {
	var name string
	if err := c.invoke(ctx, "getActiveProfile", nil, &name); err != nil {
		return "", apperr.StoreError("getActiveProfile", 0, err)
	}
	return name, nil
}

// MediaDir returns the path of the open profile's media folder.
func (c *Client) MediaDir(ctx context.Context) (string, error) {
	var dir string
	if err := c.invoke(ctx, "getMediaDirPath", nil, &dir); err != nil {
		return "", apperr.StoreError("getMediaDirPath", 0, err)
	}
	return dir, nil
}

func (c *Client) ListDecks(ctx context.Context) ([]models.Deck, error) {
	var byName map[string]int64
	if err := c.invoke(ctx, "deckNamesAndIds", nil, &byName); err != nil {
		return nil, apperr.StoreError("deckNamesAndIds", 0, err)
	}
	c.decks = make(map[int64]string, len(byName))
	out := make([]models.Deck, 0, len(byName))
	for name, id := range byName {
		c.decks[id] = name
		out = append(out, models.Deck{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// deckName resolves a deck id, refreshing the cache once on a miss.
func (c *Client) deckName(ctx context.Context, id int64) (string, error) {
	if name, ok := c.decks[id]; ok {
		return name, nil
	}
	if _, err := c.ListDecks(ctx); err != nil {
		return "", err
	}
	if name, ok := c.decks[id]; ok {
		return name, nil
	}
	return "", apperr.StoreError("deck", id, apperr.ErrNotFound)
}

// managedQuery matches cards of every managed note type.
func managedQuery() string {
	names := models.ModelNames()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf(`note:"%s"`, n)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

type cardInfo struct {
	CardID   int64  `json:"cardId"`
	Note     int64  `json:"note"`
	DeckName string `json:"deckName"`
}

type noteInfo struct {
	NoteID    int64  `json:"noteId"`
	ModelName string `json:"modelName"`
	Fields    map[string]struct {
		Value string `json:"value"`
		Order int    `json:"order"`
	} `json:"fields"`
	Cards []int64 `json:"cards"`
}

func (c *Client) ListManagedNotes(ctx context.Context, deckID int64) ([]models.ExternalNote, error) {
	query := managedQuery()
	if deckID != 0 {
		query = fmt.Sprintf("did:%d %s", deckID, query)
	}
	var cardIDs []int64
	if err := c.invoke(ctx, "findCards", map[string]any{"query": query}, &cardIDs); err != nil {
		return nil, apperr.StoreError("findCards", deckID, err)
	}
	if len(cardIDs) == 0 {
		return nil, nil
	}
	var cards []cardInfo
	if err := c.invoke(ctx, "cardsInfo", map[string]any{"cards": cardIDs}, &cards); err != nil {
		return nil, apperr.StoreError("cardsInfo", deckID, err)
	}
	if _, err := c.ListDecks(ctx); err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(c.decks))
	for id, name := range c.decks {
		byName[name] = id
	}

	// A note's deck is the deck of its first card.
	sort.Slice(cards, func(i, j int) bool { return cards[i].CardID < cards[j].CardID })
	noteDeck := map[int64]int64{}
	var noteIDs []int64
	for _, card := range cards {
		if _, seen := noteDeck[card.Note]; seen {
			continue
		}
		noteDeck[card.Note] = byName[card.DeckName]
		noteIDs = append(noteIDs, card.Note)
	}

	var infos []noteInfo
	if err := c.invoke(ctx, "notesInfo", map[string]any{"notes": noteIDs}, &infos); err != nil {
		return nil, apperr.StoreError("notesInfo", deckID, err)
	}
	out := make([]models.ExternalNote, 0, len(infos))
	for _, info := range infos {
		if info.NoteID == 0 {
			continue
		}
		t, ok := models.NoteTypeForModel(info.ModelName)
		if !ok {
			// Never touch foreign note types even if the query matched them.
			c.log.Warn("skipping unmanaged note", slog.Int64("note_id", info.NoteID), slog.String("model", info.ModelName))
			continue
		}
		fields := make(map[string]string, len(info.Fields))
		for name, f := range info.Fields {
			fields[name] = f.Value
		}
		out = append(out, models.ExternalNote{
			ID:     info.NoteID,
			DeckID: noteDeck[info.NoteID],
			Type:   t,
			Model:  info.ModelName,
			Fields: fields,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) CreateDeck(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := c.invoke(ctx, "createDeck", map[string]any{"deck": name}, &id); err != nil {
		return 0, apperr.StoreError("createDeck", 0, err)
	}
	if c.decks != nil {
		c.decks[id] = name
	}
	return id, nil
}

// RenameDeck is not offered by AnkiConnect.
func (c *Client) RenameDeck(_ context.Context, id int64, _ string) error {
	return apperr.StoreError("renameDeck", id, apperr.ErrUnsupported)
}

func (c *Client) CreateNote(ctx context.Context, deckID int64, t models.NoteType, fields map[string]string) (int64, error) {
	deck, err := c.deckName(ctx, deckID)
	if err != nil {
		return 0, err
	}
	params := map[string]any{
		"note": map[string]any{
			"deckName":  deck,
			"modelName": t.Model(),
			"fields":    fields,
			"options":   map[string]any{"allowDuplicate": true},
		},
	}
	var id int64
	if err := c.invoke(ctx, "addNote", params, &id); err != nil {
		return 0, apperr.StoreError("addNote", 0, err)
	}
	if id == 0 {
		return 0, apperr.StoreError("addNote", 0, errors.New("no note id returned"))
	}
	return id, nil
}

func (c *Client) UpdateNote(ctx context.Context, id int64, fields map[string]string) error {
	params := map[string]any{"note": map[string]any{"id": id, "fields": fields}}
	if err := c.invoke(ctx, "updateNoteFields", params, nil); err != nil {
		return apperr.StoreError("updateNoteFields", id, err)
	}
	return nil
}

func (c *Client) DeleteNote(ctx context.Context, id int64) error {
	if err := c.invoke(ctx, "deleteNotes", map[string]any{"notes": []int64{id}}, nil); err != nil {
		return apperr.StoreError("deleteNotes", id, err)
	}
	return nil
}

func (c *Client) MoveNote(ctx context.Context, id, deckID int64) error {
	deck, err := c.deckName(ctx, deckID)
	if err != nil {
		return err
	}
	var cards []int64
	if err := c.invoke(ctx, "findCards", map[string]any{"query": fmt.Sprintf("nid:%d", id)}, &cards); err != nil {
		return apperr.StoreError("findCards", id, err)
	}
	if len(cards) == 0 {
		return apperr.StoreError("changeDeck", id, apperr.ErrNotFound)
	}
	if err := c.invoke(ctx, "changeDeck", map[string]any{"cards": cards, "deck": deck}, nil); err != nil {
		return apperr.StoreError("changeDeck", id, err)
	}
	return nil
}

func (c *Client) StoreMedia(ctx context.Context, name string, data []byte) error {
	params := map[string]any{
		"filename": name,
		"data":     base64.StdEncoding.EncodeToString(data),
	}
	if err := c.invoke(ctx, "storeMediaFile", params, nil); err != nil {
		return apperr.StoreError("storeMediaFile", 0, err)
	}
	return nil
}
