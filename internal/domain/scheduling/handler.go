package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clinicflow/clinicflow/internal/platform/auth"
	"github.com/clinicflow/clinicflow/internal/platform/store"
	"github.com/clinicflow/clinicflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every signed-in role
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RolePatient))
	readGroup.GET("/doctors", h.ListDoctors)
	readGroup.GET("/doctors/:id", h.GetDoctor)
	readGroup.GET("/rooms/taken", h.RoomTaken)
	readGroup.GET("/schedules", h.ListSchedules)
	readGroup.GET("/schedules/conflicts", h.CheckConflict)
	readGroup.GET("/schedules/:id", h.GetSchedule)
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)

	// Directory administration – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/doctors", h.CreateDoctor)
	adminGroup.PUT("/doctors/:id", h.UpdateDoctor)
	adminGroup.POST("/doctors/:id/approve", h.ApproveDoctor)
	adminGroup.POST("/doctors/:id/reject", h.RejectDoctor)
	adminGroup.POST("/doctors/:id/toggle", h.ToggleDoctor)
	adminGroup.DELETE("/doctors/:id", h.DeleteDoctor)

	// Availability and appointment handling – admin, doctor
	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.POST("/schedules", h.CreateSchedule)
	doctorGroup.PUT("/schedules/:id", h.UpdateSchedule)
	doctorGroup.DELETE("/schedules/:id", h.DeleteSchedule)
	doctorGroup.POST("/appointments/:id/transition", h.TransitionAppointment)
	doctorGroup.GET("/appointments/stats", h.Stats)

	// Booking – admin, patient
	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/appointments", h.BookAppointment)
	patientGroup.POST("/appointments/:id/cancel", h.CancelAppointment)

	// Each role group registers its own catch-all; this one replaces them so
	// unknown paths are 404 for every role.
	api.RouteNotFound("", notFound)
	api.RouteNotFound("/*", notFound)
}

func notFound(c echo.Context) error {
	return echo.ErrNotFound
}

// httpError maps scheduling errors onto HTTP responses.
func httpError(err error) error {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		body := map[string]interface{}{
			"message": conflict.Error(),
			"room":    conflict.Room,
			"date":    conflict.Date,
		}
		if conflict.StartTime != "" {
			body["startTime"] = conflict.StartTime
			body["endTime"] = conflict.EndTime
		}
		if conflict.Window != nil {
			body["conflict"] = conflict.Window
		}
		if conflict.Appointment != nil {
			body["appointmentId"] = conflict.Appointment.ID
		}
		return echo.NewHTTPError(http.StatusConflict, body)
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWrongPatient):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIllegalTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrLockTimeout):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduling data is busy, retry shortly")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func idParam(c echo.Context) (ID, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return ID(id), nil
}

// callerDoctor returns the doctor id a non-admin doctor is restricted to.
// Admins get an empty id and no restriction.
func callerDoctor(c echo.Context) (ID, bool) {
	if isAdmin(c) {
		return "", false
	}
	ctx := c.Request().Context()
	for _, r := range auth.RolesFromContext(ctx) {
		if r == auth.RoleDoctor {
			return ID(auth.DoctorIDFromContext(ctx)), true
		}
	}
	return "", false
}

// patientView reports whether the caller sees the directory as a patient:
// disabled and unapproved doctors do not exist for them.
func patientView(c echo.Context) bool {
	return !auth.HasRole(c.Request().Context(), auth.RoleDoctor)
}

func isAdmin(c echo.Context) bool {
	// HasRole with no roles only passes for admin.
	return auth.HasRole(c.Request().Context())
}

// -- Doctor Handlers --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var in DoctorInput
	if err := bind(c, &in); err != nil {
		return err
	}
	doc, err := h.svc.Directory.CreateDoctor(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.Directory.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if patientView(c) && !doc.Bookable() {
		return httpError(&NotFoundError{Kind: "doctor", ID: id})
	}
	return c.JSON(http.StatusOK, doc)
}

// ListDoctors serves the admin directory, keyword search (q) and the
// patient browse view (bookable=true). Patients always get the browse view.
func (h *Handler) ListDoctors(c echo.Context) error {
	ctx := c.Request().Context()
	if c.QueryParam("bookable") == "true" || patientView(c) {
		items, err := h.svc.Directory.BookableDoctors(ctx)
		if err != nil {
			return httpError(err)
		}
		if items == nil {
			items = []BookableDoctor{}
		}
		return c.JSON(http.StatusOK, pagination.Paginate(c, items))
	}
	items, err := h.svc.Directory.SearchDoctors(ctx, c.QueryParam("q"))
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Doctor{}
	}
	return c.JSON(http.StatusOK, pagination.Paginate(c, items))
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var in DoctorInput
	if err := bind(c, &in); err != nil {
		return err
	}
	doc, err := h.svc.Directory.UpdateDoctor(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) ApproveDoctor(c echo.Context) error {
	return h.doctorAction(c, h.svc.Directory.Approve)
}

func (h *Handler) RejectDoctor(c echo.Context) error {
	return h.doctorAction(c, h.svc.Directory.Reject)
}

func (h *Handler) ToggleDoctor(c echo.Context) error {
	return h.doctorAction(c, h.svc.Directory.ToggleEnabled)
}

func (h *Handler) doctorAction(c echo.Context, action func(context.Context, ID) (*Doctor, error)) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	doc, err := action(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Directory.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RoomTaken(c echo.Context) error {
	room := c.QueryParam("room")
	taken, err := h.svc.Directory.IsRoomTaken(c.Request().Context(), room)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"room": strings.TrimSpace(room), "taken": taken})
}

// -- Schedule Handlers --

type scheduleRequest struct {
	DoctorID  ID     `json:"doctorId"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if own, restricted := callerDoctor(c); restricted {
		if req.DoctorID != "" && req.DoctorID != own {
			return echo.NewHTTPError(http.StatusForbidden, "doctors may only publish their own schedules")
		}
		req.DoctorID = own
	}
	w, err := h.svc.Registry.CreateWindow(c.Request().Context(), req.DoctorID, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	w, err := h.svc.Registry.GetWindow(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if patientView(c) {
		visible, err := h.bookableDoctorIDs(ctx)
		if err != nil {
			return httpError(err)
		}
		if !visible[w.DoctorID] {
			return httpError(&NotFoundError{Kind: "schedule", ID: id})
		}
	}
	return c.JSON(http.StatusOK, w)
}

// ListSchedules filters by doctor_id, date and room. Patients only see the
// windows of bookable doctors.
func (h *Handler) ListSchedules(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.Registry.ListWindows(ctx, WindowFilter{
		DoctorID: ID(c.QueryParam("doctor_id")),
		Date:     c.QueryParam("date"),
		Room:     c.QueryParam("room"),
	})
	if err != nil {
		return httpError(err)
	}
	if patientView(c) {
		visible, err := h.bookableDoctorIDs(ctx)
		if err != nil {
			return httpError(err)
		}
		kept := make([]*Window, 0, len(items))
		for _, w := range items {
			if visible[w.DoctorID] {
				kept = append(kept, w)
			}
		}
		items = kept
	}
	return c.JSON(http.StatusOK, pagination.Paginate(c, items))
}

func (h *Handler) bookableDoctorIDs(ctx context.Context) (map[ID]bool, error) {
	doctors, err := h.svc.Directory.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[ID]bool, len(doctors))
	for _, d := range doctors {
		if d.Bookable() {
			ids[d.ID] = true
		}
	}
	return ids, nil
}

// ownSchedule rejects doctors acting on another doctor's window.
func (h *Handler) ownSchedule(c echo.Context, id ID) error {
	own, restricted := callerDoctor(c)
	if !restricted {
		return nil
	}
	w, err := h.svc.Registry.GetWindow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if w.DoctorID != own {
		return echo.NewHTTPError(http.StatusForbidden, "schedule belongs to another doctor")
	}
	return nil
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.ownSchedule(c, id); err != nil {
		return err
	}
	w, err := h.svc.Registry.UpdateWindow(c.Request().Context(), id, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.ownSchedule(c, id); err != nil {
		return err
	}
	if err := h.svc.Registry.DeleteWindow(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CheckConflict(c echo.Context) error {
	hit, conflict, err := h.svc.Registry.RoomConflict(c.Request().Context(),
		c.QueryParam("room"), c.QueryParam("date"), c.QueryParam("start"), c.QueryParam("end"),
		ID(c.QueryParam("exclude_id")))
	if err != nil {
		return httpError(err)
	}
	resp := map[string]interface{}{"conflict": conflict}
	if hit != nil {
		resp["window"] = hit
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Appointment Handlers --

type transitionRequest struct {
	Status Status `json:"status"`
}

type cancelRequest struct {
	PatientID ID `json:"patientId"`
}

// BookAppointment books for the calling patient. Admins may book on behalf
// of a patient by naming them in the body.
func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if !isAdmin(c) {
		req.PatientID = ID(auth.UserIDFromContext(ctx))
		req.PatientName = auth.UserNameFromContext(ctx)
	}
	a, err := h.svc.Appointments.Book(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.Appointments.Get(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !isAdmin(c) {
		own, restricted := callerDoctor(c)
		switch {
		case restricted && a.DoctorID != own:
			return echo.NewHTTPError(http.StatusForbidden, "appointment belongs to another doctor")
		case !restricted && string(a.PatientID) != auth.UserIDFromContext(ctx):
			return httpError(ErrWrongPatient)
		}
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments selects by doctor_id, patient_id or a from/to date range.
// Doctors and patients only ever see their own appointments.
func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	doctorID := ID(c.QueryParam("doctor_id"))
	patientID := ID(c.QueryParam("patient_id"))

	if !isAdmin(c) {
		if own, restricted := callerDoctor(c); restricted {
			if own == "" {
				return echo.NewHTTPError(http.StatusForbidden, "token carries no doctor id")
			}
			if doctorID != "" && doctorID != own {
				return echo.NewHTTPError(http.StatusForbidden, "doctors may only list their own appointments")
			}
			doctorID = own
		} else {
			self := ID(auth.UserIDFromContext(ctx))
			if patientID != "" && patientID != self {
				return httpError(ErrWrongPatient)
			}
			patientID = self
		}
	}

	var (
		items []*Appointment
		err   error
	)
	from, to := c.QueryParam("from"), c.QueryParam("to")
	switch {
	case from != "" || to != "":
		items, err = h.svc.Appointments.ListByDateRange(ctx, from, to)
		items = filterAppointments(items, doctorID, patientID)
	case doctorID != "":
		items, err = h.svc.Appointments.ListForDoctor(ctx, doctorID)
		items = filterAppointments(items, "", patientID)
	case patientID != "":
		items, err = h.svc.Appointments.ListForPatient(ctx, patientID)
	default:
		items, err = h.svc.Appointments.ListAll(ctx)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Paginate(c, items))
}

func filterAppointments(list []*Appointment, doctorID, patientID ID) []*Appointment {
	if doctorID == "" && patientID == "" {
		return list
	}
	out := make([]*Appointment, 0, len(list))
	for _, a := range list {
		if doctorID != "" && a.DoctorID != doctorID {
			continue
		}
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (h *Handler) TransitionAppointment(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if own, restricted := callerDoctor(c); restricted {
		a, err := h.svc.Appointments.Get(ctx, id)
		if err != nil {
			return httpError(err)
		}
		if a.DoctorID != own {
			return echo.NewHTTPError(http.StatusForbidden, "appointment belongs to another doctor")
		}
	}
	target := Status(strings.ToLower(string(req.Status)))
	if target == StatusCancelled {
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			"cancellation is the patient's withdrawal; use POST /appointments/:id/cancel")
	}
	a, err := h.svc.Appointments.Transition(ctx, id, target)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	ctx := c.Request().Context()
	if !isAdmin(c) {
		req.PatientID = ID(auth.UserIDFromContext(ctx))
	}
	a, err := h.svc.Appointments.Cancel(ctx, id, req.PatientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// Stats serves the dashboard counts. Doctors get their own figures; admins
// get clinic-wide figures unless they pass doctor_id.
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	date := c.QueryParam("date")
	doctorID := ID(c.QueryParam("doctor_id"))
	if own, restricted := callerDoctor(c); restricted {
		if own == "" {
			return echo.NewHTTPError(http.StatusForbidden, "token carries no doctor id")
		}
		if doctorID != "" && doctorID != own {
			return echo.NewHTTPError(http.StatusForbidden, "doctors may only read their own stats")
		}
		doctorID = own
	}
	var (
		st  Stats
		err error
	)
	if doctorID != "" {
		st, err = h.svc.Appointments.StatsForDoctor(ctx, doctorID, date)
	} else {
		st, err = h.svc.Appointments.StatsForDate(ctx, date)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// bind decodes the request body. Transport errors such as an oversized body
// keep their status; anything else is a 400.
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
