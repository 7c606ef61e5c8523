package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/esc-lab/dialogue-bench/internal/dto"
	"github.com/esc-lab/dialogue-bench/internal/service"
	"github.com/esc-lab/dialogue-bench/internal/utils"
)

// ExperimentHandler exposes pipeline runs over HTTP.
type ExperimentHandler struct {
	service service.ExperimentService
	logger  zerolog.Logger
}

// NewExperimentHandler constructs an experiment handler.
func NewExperimentHandler(service service.ExperimentService, logger zerolog.Logger) *ExperimentHandler {
	return &ExperimentHandler{
		service: service,
		logger:  logger.With().Str("component", "experiment_handler").Logger(),
	}
}

// Register wires experiment routes.
func (h *ExperimentHandler) Register(router fiber.Router) {
	router.Post("/run", h.run)
	router.Get("/versions", h.versions)
	router.Get("/:version/status", h.status)
	router.Get("/:version/results", h.results)
}

// Models returns a handler listing the configured models and modes.
func (h *ExperimentHandler) Models(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "model catalog", h.service.Models())
}

func (h *ExperimentHandler) run(c *fiber.Ctx) error {
	var payload dto.RunExperimentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.Run(c.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrVersionTaken):
			return utils.SendError(c, fiber.StatusConflict, "experiment version already exists")
		case errors.Is(err, service.ErrNoQuestions):
			return utils.SendError(c, fiber.StatusBadRequest, "no questions available for this run")
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			h.logger.Error().Err(err).Msg("failed to start experiment run")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to start experiment run")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "experiment run accepted", response)
}

func (h *ExperimentHandler) versions(c *fiber.Ctx) error {
	summaries, err := h.service.ListVersions(c.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list experiment versions")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list experiment versions")
	}

	return utils.SendSuccess(c, "experiment versions", summaries)
}

func (h *ExperimentHandler) status(c *fiber.Ctx) error {
	version := c.Params("version")

	status, err := h.service.Status(c.Context(), version)
	if err != nil {
		if errors.Is(err, service.ErrExperimentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "experiment not found")
		}
		h.logger.Error().Err(err).Str("version", version).Msg("failed to read experiment status")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to read experiment status")
	}

	return utils.SendSuccess(c, "experiment status", status)
}

func (h *ExperimentHandler) results(c *fiber.Ctx) error {
	version := c.Params("version")

	results, err := h.service.Results(c.Context(), version)
	if err != nil {
		if errors.Is(err, service.ErrExperimentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "experiment not found")
		}
		h.logger.Error().Err(err).Str("version", version).Msg("failed to read experiment results")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to read experiment results")
	}

	return utils.SendSuccess(c, "experiment results", results)
}
