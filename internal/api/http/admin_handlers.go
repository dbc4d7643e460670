package http

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quizforge/quizforge/internal/bank"
	"github.com/quizforge/quizforge/internal/logging"
	"github.com/quizforge/quizforge/internal/quiz"
	"github.com/quizforge/quizforge/internal/storage"
)

const maxBankUpload = 10 << 20 // 10 MiB

// UploadBankHandler accepts a multipart bank document, persists the raw file
// to the blob store and loads its questions. Loading 0 questions means the
// bank was already current.
func UploadBankHandler(store quiz.Store, blobs *storage.FSStore, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxBankUpload); err != nil {
			http.Error(w, "bad multipart form", 400)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file field required", 400)
			return
		}
		defer f.Close()

		name := filepath.Base(hdr.Filename)
		if err := bank.ValidateBankFileName(name); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxBankUpload))
		if err != nil {
			http.Error(w, "read upload", 500)
			return
		}

		blobPath, err := blobs.Put(name, bytes.NewReader(data))
		if err != nil {
			http.Error(w, "store upload", 500)
			return
		}
		b, err := bank.ParseBank(data, blobPath)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		loaded, err := store.LoadBank(r.Context(), b)
		if err != nil {
			writeErr(w, err)
			return
		}
		log.Info("bank uploaded", "bank_id", b.ID, "file", name, "loaded", loaded)
		writeJSON(w, 201, map[string]interface{}{
			"bank_id":          b.ID,
			"questions_loaded": loaded,
			"question_count":   len(b.Questions),
		})
	}
}

func DeleteBankHandler(store quiz.Store, blobs *storage.FSStore, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "bankID")
		filePath, err := store.DeleteBank(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		// Uploaded documents live in the blob store under their base name;
		// dir-seeded banks have no blob and this is a no-op.
		if filePath != "" {
			if err := blobs.Delete(filepath.Base(filePath)); err != nil {
				log.Warn("delete bank blob", "bank_id", id, "err", err)
			}
		}
		log.Info("bank deleted", "bank_id", id)
		writeJSON(w, 200, map[string]string{"deleted": id})
	}
}

func ListBanksHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		banks, err := store.ListBanks(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		if banks == nil {
			banks = []quiz.BankInfo{}
		}
		writeJSON(w, 200, map[string]interface{}{"banks": banks})
	}
}

func ListSessionsHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := quiz.SessionListOpts{}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "bad limit", 400)
				return
			}
			opts.Limit = n
		}
		if v := r.URL.Query().Get("status"); v != "" {
			opts.Status = quiz.SessionStatus(v)
		}
		sessions, err := store.ListSessions(r.Context(), opts)
		if err != nil {
			writeErr(w, err)
			return
		}
		if sessions == nil {
			sessions = []quiz.Session{}
		}
		writeJSON(w, 200, map[string]interface{}{"sessions": sessions})
	}
}

func DeleteSessionHandler(store quiz.Store, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		if err := store.DeleteSession(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		log.Info("session deleted", "session_id", id)
		writeJSON(w, 200, map[string]string{"deleted": id})
	}
}
