package handlers

import (
	"log"
	"net/http"

	"github.com/whizmedia/social-dashboard/backend/internal/middleware"
)

// InstagramPost publishes an uploaded image to the shared business account.
// The route is wrapped in the session and instagramAccess guards, so by the
// time this runs the caller is already authorized.
func (h *Handler) InstagramPost(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   "Authentication required",
			"message": "Please log in to post",
		})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}
	image, err := readFormFile(r, "image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}
	if len(image) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "No image provided",
			"message": "Please upload an image file",
		})
		return
	}

	if h.uploader == nil || h.ig == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to post to Instagram",
			"message": "Instagram posting is not configured on this server",
		})
		return
	}

	imageURL, err := h.uploader.UploadImage(r.Context(), image)
	if err != nil {
		h.metrics.RecordPublish("instagram", "failure")
		log.Printf("[IGPost] upload error for %s: %v", user.UID, err)
		writeUpstreamError(w, http.StatusInternalServerError, "Failed to post to Instagram", err)
		return
	}

	postID, err := h.ig.Publish(r.Context(), imageURL, r.FormValue("caption"))
	if err != nil {
		h.metrics.RecordPublish("instagram", "failure")
		writeUpstreamError(w, http.StatusInternalServerError, "Failed to post to Instagram", err)
		return
	}

	h.metrics.RecordPublish("instagram", "success")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"instagramPostId": postID,
		"imageUrl":        imageURL,
		"message":         "Post published successfully to Instagram",
	})
}
