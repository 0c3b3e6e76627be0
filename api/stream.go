package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const readyEvent = "ready"

// streamBoard joins the connection to the board room and relays every event
// as a Server-Sent Event until the client goes away or falls too far behind.
// Closing the stream leaves the room.
func streamBoard(board Board, stream Stream, logger *log.Logger, heartbeat time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		boardID := strings.TrimSpace(c.QueryParam("board"))
		if boardID == "" {
			boardID = board.BoardID()
		}
		if boardID != board.BoardID() {
			return c.JSON(http.StatusNotFound, messageResponse{Message: fmt.Sprintf("board %s not found", boardID)})
		}

		res := c.Response()
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: "stream unsupported"})
		}
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")

		ctx := c.Request().Context()
		connID := newConnectionID()
		sub := stream.Subscribe(boardID, connID)
		defer stream.Unsubscribe(boardID, connID)
		entry := logger.WithFields(log.Fields{"board": boardID, "connection": connID, "user": userID(c)})
		entry.Debug("stream joined")

		res.WriteHeader(http.StatusOK)
		version := stream.Version(ctx, boardID)
		ready, err := sonic.Marshal(readyPayload{ConnectionID: connID, BoardID: boardID, Version: version})
		if err != nil {
			return err
		}
		if err := writeFrame(res, version, readyEvent, ready); err != nil {
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				entry.Debug("stream closed by client")
				return nil
			case msg, ok := <-sub.C:
				if !ok {
					entry.Info("stream evicted; client must refetch")
					return nil
				}
				if err := writeFrame(res, msg.Version, string(msg.Type), msg.Data); err != nil {
					entry.WithError(err).Debug("stream write failed")
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := io.WriteString(res, ": ping\n\n"); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

// writeFrame writes one SSE frame. Unversioned events carry no id line.
func writeFrame(w io.Writer, version int64, event string, data []byte) error {
	var b strings.Builder
	if version > 0 {
		fmt.Fprintf(&b, "id: %d\n", version)
	}
	fmt.Fprintf(&b, "event: %s\n", event)
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")
	_, err := io.WriteString(w, b.String())
	return err
}
