package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

const (
	maxPhotoBytes = 3 << 20
	photoURLPath  = "/photos/"
)

// PhotoStorage stores profile photos and returns their public URL.
type PhotoStorage interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	// Delete removes the object behind a URL returned by Save. Unknown URLs
	// are ignored.
	Delete(ctx context.Context, url string) error
}

// localPhotos keeps photos on disk; the router serves them under /photos/.
type localPhotos struct {
	dir string
}

func newLocalPhotos(dir string) (*localPhotos, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &localPhotos{dir: dir}, nil
}

func (l *localPhotos) Save(_ context.Context, key, _ string, r io.Reader) (string, error) {
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return photoURLPath + key, nil
}

func (l *localPhotos) Delete(_ context.Context, url string) error {
	key, ok := strings.CutPrefix(url, photoURLPath)
	if !ok || key == "" || strings.Contains(key, "..") {
		return nil
	}
	err := os.Remove(filepath.Join(l.dir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Handler serves the stored files. Directories answer 404.
func (l *localPhotos) Handler() http.Handler {
	return http.StripPrefix(photoURLPath, http.FileServer(filesOnly{http.Dir(l.dir)}))
}

// filesOnly hides directories from http.FileServer so it never renders a
// listing of someone's uploads.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

type s3Photos struct {
	client  *s3.S3
	bucket  string
	baseURL string
}

func newS3Photos(region, bucket string) (*s3Photos, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}
	return &s3Photos{
		client:  s3.New(sess),
		bucket:  bucket,
		baseURL: fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", bucket, region),
	}, nil
}

func (s *s3Photos) Save(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put: %w", err)
	}
	return s.baseURL + key, nil
}

func (s *s3Photos) Delete(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.baseURL)
	if !ok || key == "" {
		return nil
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// POST /me/photo (multipart form, field name "file")
func (s *server) uploadPhotoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)

		r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+(64<<10))
		if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file")
			return
		}
		defer f.Close()
		if hdr.Size > maxPhotoBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}

		// sniff the type from the first bytes
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		ctype := http.DetectContentType(head[:n])
		ext, ok := photoExtensions[ctype]
		if !ok {
			writeError(w, http.StatusBadRequest, "only_jpeg_or_png_allowed")
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "seek_failed")
			return
		}

		key := fmt.Sprintf("%d/%s%s", me, uuid.NewString(), ext)
		url, err := s.photos.Save(r.Context(), key, ctype, f)
		if err != nil {
			log.Println("Error saving photo:", err)
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		previous, err := s.users.SetPhotoURL(r.Context(), me, url)
		if err != nil {
			_ = s.photos.Delete(r.Context(), url)
			if errors.Is(err, errUserNotFound) {
				writeError(w, http.StatusConflict, "profile_not_initialized")
				return
			}
			log.Println("Error storing photo url:", err)
			writeError(w, http.StatusInternalServerError, "db_update_failed")
			return
		}
		if previous != "" {
			if err := s.photos.Delete(r.Context(), previous); err != nil {
				log.Println("Error deleting previous photo:", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"photoUrl": url})
	}
}

// DELETE /me/photo
func (s *server) deletePhotoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		previous, err := s.users.SetPhotoURL(r.Context(), currentUserID(r), "")
		if err != nil {
			log.Println("Error clearing photo url:", err)
			writeError(w, http.StatusInternalServerError, "remove_failed")
			return
		}
		if previous != "" {
			if err := s.photos.Delete(r.Context(), previous); err != nil {
				log.Println("Error deleting photo:", err)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
