package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	executer "github.com/sudankdk/aoc-runner/internal/Executer"
	"github.com/sudankdk/aoc-runner/internal/jobs"
	"github.com/sudankdk/aoc-runner/internal/leaderboard"
	"github.com/sudankdk/aoc-runner/internal/logger"
	"github.com/sudankdk/aoc-runner/internal/model"
	"github.com/sudankdk/aoc-runner/internal/utils"
)

const (
	minYear = 2015
	maxYear = 2100
)

type ExecuteRequest struct {
	Language string  `json:"language"`
	Code     string  `json:"code"`
	Encoding string  `json:"encoding"`
	Filename string  `json:"filename"`
	Stdin    *string `json:"stdin"`
}

type fileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

type submitStats struct {
	ExecutionTimeMs     int64         `json:"executionTimeMs"`
	MemoryUsageKB       int64         `json:"memoryUsageKb"`
	LinesOfRelevantCode int           `json:"linesOfRelevantCode"`
	Language            string        `json:"language"`
	Outcome             model.Outcome `json:"outcome"`
	SubmittedAt         time.Time     `json:"submittedAt"`
}

type submitResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	File    fileInfo    `json:"file"`
	Stats   submitStats `json:"stats"`
}

func (s *Server) setupRoutes(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("aoc-runner running") })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	limit := func(c *fiber.Ctx) error { return c.Next() }
	if s.limiter != nil {
		limit = s.limiter.Middleware()
	}

	app.Post("/execute", limit, s.executeHandler)

	api := app.Group("/api")
	api.Get("/health", s.healthHandler)
	api.Get("/me", s.meHandler)
	api.Post("/submit", limit, s.submitHandler)
	api.Get("/jobs/:id", s.jobHandler)
	api.Get("/leaderboard", s.leaderboardHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	now := time.Now().UTC()
	if err := s.store.Ping(c.UserContext()); err != nil {
		s.log.Warn("leaderboard store unreachable", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"time":   now,
			"store":  "unreachable",
		})
	}
	body := fiber.Map{"status": "ok", "time": now}
	if s.capacity != nil {
		body["sandbox"] = fiber.Map{"active": s.capacity.Active(), "capacity": s.capacity.Size()}
	}
	return c.JSON(body)
}

func (s *Server) meHandler(c *fiber.Ctx) error {
	user, ok := utils.ParseAuthCookie(c.Cookies(utils.AuthCookie))
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"authenticated": false})
	}
	return c.JSON(fiber.Map{"authenticated": true, "user": user})
}

func (s *Server) executeHandler(c *fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Code is required")
	}
	src, err := utils.DecodeSource(req.Code, req.Encoding)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var input []byte
	if req.Stdin != nil {
		input = append([]byte{}, *req.Stdin...)
	}

	ctx := logger.WithSubmission(c.UserContext(), uuid.NewString())
	report := s.exec.Run(ctx, model.ExecutionRequest{
		Source:   src,
		Language: req.Language,
		Filename: req.Filename,
		Input:    input,
	})

	switch report.Outcome {
	case model.OutcomeUnsupportedLanguage:
		msg := "Language not supported"
		if len(s.cfg.Languages) > 0 {
			msg += "; supported: " + strings.Join(s.cfg.Languages, ", ")
		}
		return fiber.NewError(fiber.StatusBadRequest, msg)
	case model.OutcomeServerBusy:
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

func (s *Server) submitHandler(c *fiber.Ctx) error {
	sol, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No solution file uploaded")
	}
	in, err := c.FormFile("input")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No input file uploaded")
	}
	if !utils.HasExt(sol.Filename, utils.SolutionExts...) || !utils.HasExt(in.Filename, utils.InputExts...) {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid file type")
	}

	day, err := strconv.Atoi(strings.TrimSpace(c.FormValue("day")))
	if err != nil || day < 1 || day > 25 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid day; must be between 1 and 25")
	}
	year, err := strconv.Atoi(strings.TrimSpace(c.FormValue("year")))
	if err != nil || year < minYear || year > maxYear {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid year")
	}
	part1 := c.FormValue("part1") == "true"
	part2 := c.FormValue("part2") == "true"

	solution, err := s.readUpload(sol)
	if err != nil {
		return err
	}
	input, err := s.readUpload(in)
	if err != nil {
		return err
	}

	user := utils.ResolveUser(c.Cookies(utils.AuthCookie), c.FormValue("username"), c.FormValue("userId"))
	sub := executer.Submission{
		Entry: model.LeaderboardEntry{
			Rank:                -1,
			UserID:              user.ID,
			Username:            user.Username,
			Year:                year,
			Day:                 day,
			Part1Completed:      part1,
			Part2Completed:      part2,
			ExecutionTimeMs:     -1,
			MemoryUsageKB:       -1,
			LinesOfRelevantCode: -1,
			SubmittedAt:         time.Now().UTC(),
		},
		Filename: sol.Filename,
		MimeType: sol.Header.Get(fiber.HeaderContentType),
		Solution: solution,
		Input:    input,
	}

	id := uuid.NewString()
	ctx := logger.WithSubmission(c.UserContext(), id)
	log := logger.FromContext(ctx, s.log)
	log.Info("submission received",
		zap.String("user_id", user.ID),
		zap.Int("year", year),
		zap.Int("day", day),
		zap.String("file", sol.Filename),
		zap.Int64("size", sol.Size),
		zap.Int64("input_size", in.Size),
	)

	if c.QueryBool("async") && s.jobs != nil {
		job, err := s.jobs.Submit(ctx, sub)
		if err != nil {
			log.Error("queue submission", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to process submission")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"jobId": job.ID, "status": job.Status})
	}

	entry, report, err := s.submitter.Handle(ctx, sub)
	if err != nil {
		log.Error("submission failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to process submission")
	}

	return c.JSON(submitResponse{
		Success: true,
		Message: fmt.Sprintf("Day %d (%s) submitted successfully!", day, partsLabel(part1, part2)),
		File: fileInfo{
			Name: sol.Filename,
			Size: sol.Size,
			Type: sub.MimeType,
		},
		Stats: submitStats{
			ExecutionTimeMs:     entry.ExecutionTimeMs,
			MemoryUsageKB:       entry.MemoryUsageKB,
			LinesOfRelevantCode: entry.LinesOfRelevantCode,
			Language:            entry.Language,
			Outcome:             report.Outcome,
			SubmittedAt:         entry.SubmittedAt,
		},
	})
}

func (s *Server) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if s.cfg.UploadLimit > 0 && fh.Size > s.cfg.UploadLimit {
		return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge, "File too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}

func partsLabel(part1, part2 bool) string {
	var parts []string
	if part1 {
		parts = append(parts, "Part 1")
	}
	if part2 {
		parts = append(parts, "Part 2")
	}
	if len(parts) == 0 {
		return "No parts selected"
	}
	return strings.Join(parts, " & ")
}

func (s *Server) jobHandler(c *fiber.Ctx) error {
	if s.jobs == nil {
		return fiber.NewError(fiber.StatusNotFound, "Background jobs are not enabled")
	}
	job, err := s.jobs.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Job not found")
	}
	if err != nil {
		s.log.Error("fetch job", zap.String("job_id", c.Params("id")), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch job")
	}
	return c.JSON(job)
}

func (s *Server) leaderboardHandler(c *fiber.Ctx) error {
	var (
		f   leaderboard.Filter
		err error
	)
	if f.Year, err = queryInt(c, "year"); err != nil {
		return err
	}
	if f.Day, err = queryInt(c, "day"); err != nil {
		return err
	}
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return err
	}
	f.Language = c.Query("language")
	f.Username = c.Query("username")

	entries, err := s.store.List(c.UserContext(), f)
	if errors.Is(err, leaderboard.ErrInvalidFilter) {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid leaderboard filter")
	}
	if err != nil {
		s.log.Error("list leaderboard", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch leaderboard")
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid %s", key))
	}
	return n, nil
}
