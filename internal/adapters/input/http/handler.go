package http

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/input"
	"agent-bridge/pkg/validator"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Pinger is anything the health check can ping
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPHandler struct - Primary/Driving adapter for HTTP
type HTTPHandler struct {
	dispatcher input.TurnDispatcher
	artifacts  input.ArtifactStore
	store      Pinger
	appName    string
	validator  validator.Validator
}

// New func - Creates new HTTP handler
func New(dispatcher input.TurnDispatcher, artifacts input.ArtifactStore, store Pinger, appName string) *HTTPHandler {
	return &HTTPHandler{
		dispatcher: dispatcher,
		artifacts:  artifacts,
		store:      store,
		appName:    appName,
		validator:  validator.New(),
	}
}

// HealthCheck func
func (hdl *HTTPHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	if err := hdl.store.Ping(ctx); err != nil {
		logrus.Errorf("Health check failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ResponseBody{Status: ServiceUnavailable})
	}
	return c.Status(fiber.StatusOK).JSON(ResponseBody{Status: Success, Data: ""})
}

// HandleTurn godoc
// @Summary Handle turn
// @Description Runs one message with optional attachments through the agent backend
// @Tags TURN
// @Accept application/json
// @Param request body TurnRequest true "turn"
// @Success 200 {object} ResponseBody
// @Failure 400 {object} ResponseBody
// @Router /v1/api/turns	[post]
// @Produce json
// @param HandleTurn body TurnRequest true "HandleTurn"
func (hdl *HTTPHandler) HandleTurn(c *fiber.Ctx) error {
	var request TurnRequest
	if err := c.BodyParser(&request); err != nil {
		logrus.Errorln(err)
		return c.Status(fiber.StatusBadRequest).JSON(ResponseBody{Status: BadRequest})
	}
	if err := hdl.validator.ValidateStruct(request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(withMessage(BadRequest, err.Error()))
	}

	// Convert HTTP request to domain attachments
	attachments := make([]domain.Attachment, 0, len(request.Attachments))
	for _, a := range request.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(withMessage(BadRequest, err.Error()))
		}
		attachments = append(attachments, domain.Attachment{
			Data:     data,
			MimeType: a.MimeType,
			Filename: a.Filename,
		})
	}

	reply, err := hdl.dispatcher.HandleTurn(c.UserContext(), request.UserID, request.Text, attachments)
	if err != nil {
		logrus.Warnf("Turn ended with %s: userID=%s, err=%v", reply.Outcome, request.UserID, err)
	}

	// Convert domain reply to HTTP response
	images := make([]ImageResponse, 0, len(reply.Images))
	for _, image := range reply.Images {
		images = append(images, ImageResponse{
			MimeType: image.MimeType,
			Data:     base64.StdEncoding.EncodeToString(image.Data),
		})
	}

	return c.Status(fiber.StatusOK).JSON(ResponseBody{
		Status: Success,
		Data: TurnResponse{
			ReplyText:   reply.Text,
			ReplyImages: images,
			Outcome:     string(reply.Outcome),
			SessionID:   reply.BackendSessionID,
		},
	})
}

// ResetSession godoc
// @Summary Reset session
// @Description Removes the user's backend session mapping
// @Tags SESSION
// @Success 200 {object} ResponseBody
// @Router /v1/api/sessions/{user}	[delete]
// @Produce json
// @param user path string true "external user id"
func (hdl *HTTPHandler) ResetSession(c *fiber.Ctx) error {
	var params ArtifactPathParams
	if err := hdl.parseParams(c, &params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(withMessage(BadRequest, err.Error()))
	}

	if err := hdl.dispatcher.ResetSession(c.UserContext(), params.UserID); err != nil {
		logrus.Errorln(err)
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseBody{Status: InternalServerError})
	}
	return c.Status(fiber.StatusOK).JSON(ResponseBody{Status: Success})
}

// ListArtifacts godoc
// @Summary List artifacts
// @Description Lists every artifact filename stored for the user
// @Tags ARTIFACT
// @Success 200 {object} ResponseBody
// @Router /v1/api/artifacts/{user}	[get]
// @Produce json
// @param user path string true "external user id"
func (hdl *HTTPHandler) ListArtifacts(c *fiber.Ctx) error {
	var params ArtifactPathParams
	if err := hdl.parseParams(c, &params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(withMessage(BadRequest, err.Error()))
	}

	filenames, err := hdl.artifacts.ListFilenames(c.UserContext(), hdl.appName, params.UserID)
	if err != nil {
		logrus.Errorln(err)
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseBody{Status: InternalServerError})
	}

	return c.Status(fiber.StatusOK).JSON(ResponseBody{
		Status: Success,
		Data:   ArtifactListResponse{UserID: params.UserID, Filenames: filenames},
	})
}

// GetArtifactByFilename godoc
// @Summary Get artifact by filename
// @Description Returns the newest version of a user's artifact; version suffixes in the name are tolerated
// @Tags ARTIFACT
// @Produce octet-stream
// @Success 200 {file} binary
// @Failure 404 {object} ResponseBody
// @Router /v1/api/artifacts/{user}/files/{filename}	[get]
// @param user path string true "external user id"
// @param filename path string true "filename"
func (hdl *HTTPHandler) GetArtifactByFilename(c *fiber.Ctx) error {
	var params ArtifactPathParams
	if err := hdl.parseParams(c, &params); err != nil || params.Filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseBody{Status: BadRequest})
	}

	artifact, err := hdl.artifacts.LoadByFilenameWithVersionFallback(c.UserContext(), hdl.appName, params.UserID, params.Filename)
	return hdl.sendArtifact(c, artifact, err)
}

// GetArtifact godoc
// @Summary Get session artifact
// @Description Returns the newest version of an artifact in one backend session
// @Tags ARTIFACT
// @Produce octet-stream
// @Success 200 {file} binary
// @Failure 404 {object} ResponseBody
// @Router /v1/api/artifacts/{user}/{session}/{filename}	[get]
// @param user path string true "external user id"
// @param session path string true "backend session id"
// @param filename path string true "filename"
func (hdl *HTTPHandler) GetArtifact(c *fiber.Ctx) error {
	var params ArtifactPathParams
	if err := hdl.parseParams(c, &params); err != nil || params.SessionID == "" || params.Filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseBody{Status: BadRequest})
	}

	key := domain.ArtifactKey{
		AppName:   hdl.appName,
		UserID:    params.UserID,
		SessionID: params.SessionID,
		Filename:  params.Filename,
	}
	artifact, err := hdl.artifacts.LoadLatest(c.UserContext(), key, domain.LatestBySentinel)
	return hdl.sendArtifact(c, artifact, err)
}

func (hdl *HTTPHandler) sendArtifact(c *fiber.Ctx, artifact *domain.Artifact, err error) error {
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(withMessage(NotFound, err.Error()))
		}
		logrus.Errorln(err)
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseBody{Status: InternalServerError})
	}

	contentType := artifact.MimeType
	if contentType == "" {
		contentType = domain.MimeTypeOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Artifact-Version", strconv.Itoa(artifact.Version))
	return c.Status(fiber.StatusOK).Send(artifact.Payload)
}

func (hdl *HTTPHandler) parseParams(c *fiber.Ctx, params *ArtifactPathParams) error {
	if err := c.ParamsParser(params); err != nil {
		return err
	}
	return hdl.validator.ValidateStruct(*params)
}
