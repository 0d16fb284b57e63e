package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// Content rows historically used a handful of alternate column names for
// the same semantic value. They are normalized to one canonical field per
// concept here, at ingestion, so the orchestration logic never has to
// chase aliases.
func canonicalColumn(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "level", "lvl", "stufe":
		return "level"
	case "kind", "type", "art":
		return "kind"
	case "gender", "sex":
		return "gender"
	case "text", "prompt", "frage":
		return "text"
	case "textmale", "text_m", "male_text", "mann":
		return "textMale"
	case "textfemale", "text_f", "female_text", "frau":
		return "textFemale"
	case "id":
		return "id"
	default:
		return ""
	}
}

func normalizeGender(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "m", genderMale:
		return genderMale
	case "f", "w", genderFemale:
		return genderFemale
	case "b", genderBoth, "":
		return genderBoth
	default:
		return ""
	}
}

func normalizeKind(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case kindTruth, "truth_or_dare_truth", "wahrheit":
		return kindTruth
	case kindDare, "pflicht":
		return kindDare
	case kindMatch, "pair", "couple":
		return kindMatch
	default:
		return ""
	}
}

type importResult struct {
	Challenges int `json:"challenges"`
	Pairs      int `json:"pairs"`
	Skipped    int `json:"skipped"`
}

// parseContentCSV turns header-driven CSV input into normalized content
// records. Rows with a match kind, or with both pair texts present, become
// pair statements; everything else is a single-player challenge.
func parseContentCSV(r io.Reader) ([]Challenge, []PairChallenge, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, 0, errors.New("missing CSV header row")
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = canonicalColumn(name)
	}

	var challenges []Challenge
	var pairs []PairChallenge
	skipped := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, 0, err
		}

		fields := make(map[string]string, len(columns))
		for i, value := range record {
			if i < len(columns) && columns[i] != "" {
				fields[columns[i]] = strings.TrimSpace(value)
			}
		}

		kind := normalizeKind(fields["kind"])
		if kind == "" && fields["textMale"] != "" && fields["textFemale"] != "" {
			kind = kindMatch
		}

		id := fields["id"]
		if id == "" {
			id = uuid.NewString()
		}

		switch kind {
		case kindMatch:
			if fields["textMale"] == "" && fields["textFemale"] == "" {
				skipped++
				continue
			}
			pairs = append(pairs, PairChallenge{
				ID:         id,
				Level:      fields["level"],
				TextMale:   fields["textMale"],
				TextFemale: fields["textFemale"],
			})
		case kindTruth, kindDare:
			if fields["text"] == "" {
				skipped++
				continue
			}
			challenges = append(challenges, Challenge{
				ID:     id,
				Level:  fields["level"],
				Kind:   kind,
				Gender: normalizeGender(fields["gender"]),
				Text:   fields["text"],
			})
		default:
			skipped++
		}
	}

	return challenges, pairs, skipped, nil
}

// requireAdmin gates the content-management endpoints on the game-master
// cookie.
func requireAdmin(store *Store, w http.ResponseWriter, r *http.Request) bool {
	playerID := getOrSetPlayerID(w, r)
	if playerID == "" {
		http.Error(w, "unable to assign player id", http.StatusInternalServerError)
		return false
	}

	sess, err := store.LoadSession(r.Context(), sessionKey)
	if err != nil {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return false
	}
	if sess.AdminID == "" || sess.AdminID != playerID {
		http.Error(w, errNotAdmin.Error(), http.StatusForbidden)
		return false
	}
	return true
}

func importContent(cfg *Config, store *Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		if !requireAdmin(store, w, r) {
			return
		}

		challenges, pairs, skipped, err := parseContentCSV(r.Body)
		if err != nil {
			http.Error(w, "invalid CSV: "+err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		for i := range challenges {
			if err := store.PutChallenge(ctx, &challenges[i]); err != nil {
				http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		for i := range pairs {
			if err := store.PutPairChallenge(ctx, &pairs[i]); err != nil {
				http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(importResult{
			Challenges: len(challenges),
			Pairs:      len(pairs),
			Skipped:    skipped,
		}); err != nil {
			errs <- err

			return
		}

		logf(cfg, "IMPORT: %d challenge(s), %d pair(s), %d skipped (%s) from %s in %s",
			len(challenges),
			len(pairs),
			skipped,
			humanReadableSize(r.ContentLength),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func listContent(store *Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if !requireAdmin(store, w, r) {
			return
		}

		ctx := r.Context()
		challenges, err := store.ListChallenges(ctx, ChallengeFilter{})
		if err != nil {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		pairs, err := store.ListPairChallenges(ctx, ChallengeFilter{})
		if err != nil {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"challenges": challenges,
			"pairs":      pairs,
		}); err != nil {
			errs <- err

			return
		}
	}
}

func setContentPaused(store *Store, paused bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !requireAdmin(store, w, r) {
			return
		}

		if err := store.SetPaused(r.Context(), ps.ByName("id"), paused); err != nil {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteContent(store *Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !requireAdmin(store, w, r) {
			return
		}

		if err := store.DeleteContent(r.Context(), ps.ByName("id")); err != nil {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clearContent(store *Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if !requireAdmin(store, w, r) {
			return
		}

		if err := store.ClearContent(r.Context()); err != nil {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func registerContentRoutes(cfg *Config, path string, mux *httprouter.Router, store *Store, errs chan<- error) {
	mux.POST(cfg.prefix+path+"/import", importContent(cfg, store, errs))
	mux.GET(cfg.prefix+path+"/content", listContent(store, errs))
	mux.POST(cfg.prefix+path+"/content/:id/pause", setContentPaused(store, true))
	mux.POST(cfg.prefix+path+"/content/:id/resume", setContentPaused(store, false))
	mux.DELETE(cfg.prefix+path+"/content/:id", deleteContent(store))
	mux.DELETE(cfg.prefix+path+"/content", clearContent(store))
}
