package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/the-bills-must-flow/internal/common"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
)

const gmailUser = "me"

// Source implements service.MailSource on top of the Gmail API.
type Source struct {
	service *gmailapi.Service
	config  Config

	mu       sync.Mutex
	labelIDs map[string]string // label name -> label id
}

// NewSource creates a Gmail-backed mail source.
func NewSource(ctx context.Context, config Config) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv, err := createGmailService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &Source{
		service:  srv,
		config:   config,
		labelIDs: make(map[string]string),
	}, nil
}

// createGmailService creates a Gmail API service.
func createGmailService(ctx context.Context, config Config) (*gmailapi.Service, error) {
	oauthConfig := OAuth2Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenFile:    config.TokenFile,
	}

	var token *oauth2.Token
	if config.RefreshToken != "" {
		token = &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}
	} else {
		loaded, err := LoadToken(config.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("unable to load token file: %w", err)
		}
		token = loaded
	}

	tokenSource := oauthConfig.oauthConfig().TokenSource(ctx, token)
	httpClient := oauth2.NewClient(ctx, tokenSource)

	srv, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail service: %w", err)
	}

	return srv, nil
}

// SearchCandidates returns one page of message refs matching the query.
func (s *Source) SearchCandidates(ctx context.Context, query, pageToken string, maxResults int64) ([]service.CandidateRef, string, error) {
	call := s.service.Users.Messages.List(gmailUser).
		Q(query).
		MaxResults(maxResults).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	var resp *gmailapi.ListMessagesResponse
	err := common.WithRetry(ctx, func() error {
		var callErr error
		resp, callErr = call.Do()
		return callErr
	}, s.retryOptions())
	if err != nil {
		return nil, "", fmt.Errorf("failed to list messages: %w", err)
	}

	refs := make([]service.CandidateRef, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		refs = append(refs, service.CandidateRef{ID: msg.Id, ThreadID: msg.ThreadId})
	}

	return refs, resp.NextPageToken, nil
}

// FetchMessageMetadata fetches a message and normalizes it into the
// canonical candidate form. Provider payload shapes stop here.
func (s *Source) FetchMessageMetadata(ctx context.Context, id string) (*model.CandidateMessage, error) {
	var msg *gmailapi.Message
	err := common.WithRetry(ctx, func() error {
		var callErr error
		msg, callErr = s.service.Users.Messages.Get(gmailUser, id).
			Format("full").
			Context(ctx).
			Do()
		return callErr
	}, s.retryOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}

	return normalizeMessage(msg), nil
}

// ApplyLabel adds a label to a message, creating the label if needed.
func (s *Source) ApplyLabel(ctx context.Context, targetID, label string) error {
	labelID, err := s.resolveLabel(ctx, label)
	if err != nil {
		return err
	}
	return s.modifyLabels(ctx, targetID, &gmailapi.ModifyMessageRequest{AddLabelIds: []string{labelID}})
}

// RemoveLabel removes a label from a message. Removing a label the
// message does not carry is not an error.
func (s *Source) RemoveLabel(ctx context.Context, targetID, label string) error {
	labelID, err := s.resolveLabel(ctx, label)
	if err != nil {
		return err
	}
	return s.modifyLabels(ctx, targetID, &gmailapi.ModifyMessageRequest{RemoveLabelIds: []string{labelID}})
}

func (s *Source) modifyLabels(ctx context.Context, targetID string, req *gmailapi.ModifyMessageRequest) error {
	err := common.WithRetry(ctx, func() error {
		_, callErr := s.service.Users.Messages.Modify(gmailUser, targetID, req).Context(ctx).Do()
		return callErr
	}, s.retryOptions())
	if err != nil {
		return fmt.Errorf("failed to modify labels on %s: %w", targetID, err)
	}
	return nil
}

// resolveLabel maps a label name to its id, creating the label on first
// use. Results are cached for the lifetime of the source.
func (s *Source) resolveLabel(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if id, ok := s.labelIDs[name]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	resp, err := s.service.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, label := range resp.Labels {
		s.labelIDs[label.Name] = label.Id
	}
	if id, ok := s.labelIDs[name]; ok {
		return id, nil
	}

	created, err := s.service.Users.Labels.Create(gmailUser, &gmailapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}
	s.labelIDs[name] = created.Id
	return created.Id, nil
}

func (s *Source) retryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  s.config.RetryAttempts,
		InitialDelay: s.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// normalizeMessage converts a raw Gmail message into the canonical
// candidate form.
func normalizeMessage(msg *gmailapi.Message) *model.CandidateMessage {
	candidate := &model.CandidateMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Date:     time.UnixMilli(msg.InternalDate).UTC(),
	}

	if msg.Payload == nil {
		return candidate
	}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "from":
			candidate.Sender, candidate.SenderEmail = parseSender(header.Value)
		case "subject":
			candidate.Subject = header.Value
		}
	}

	candidate.Body = extractBody(msg.Payload)
	candidate.Attachments = extractAttachments(msg.Payload)

	return candidate
}

// parseSender splits a From header into display name and address.
func parseSender(from string) (name, email string) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		// Malformed headers happen; keep whatever looks like an address.
		return "", strings.Trim(from, "<> ")
	}
	return addr.Name, addr.Address
}

// extractBody walks the MIME tree and returns the first text/plain part,
// falling back to text/html.
func extractBody(part *gmailapi.MessagePart) string {
	if body := findBody(part, "text/plain"); body != "" {
		return body
	}
	return findBody(part, "text/html")
}

func findBody(part *gmailapi.MessagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(part.Body.Data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func extractAttachments(part *gmailapi.MessagePart) []model.Attachment {
	var attachments []model.Attachment
	var walk func(p *gmailapi.MessagePart)
	walk = func(p *gmailapi.MessagePart) {
		if p.Filename != "" {
			var size int64
			if p.Body != nil {
				size = p.Body.Size
			}
			attachments = append(attachments, model.Attachment{
				Filename: p.Filename,
				MimeType: p.MimeType,
				Size:     size,
			})
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(part)
	return attachments
}
