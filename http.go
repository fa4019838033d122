package contactor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bytememiles/email-contactor-sub000/internal"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type HttpHandler struct {
	app *application
}

func (h *HttpHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/send-email", h.SendEmail).Methods(http.MethodPost)
	api.HandleFunc("/send-now", h.SendNow).Methods(http.MethodPost)

	api.HandleFunc("/jobs", h.GetAllJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", h.CreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.DeleteJob).Methods(http.MethodDelete)

	api.HandleFunc("/scheduler/trigger", h.TriggerSweep).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/status", h.SchedulerStatus).Methods(http.MethodGet)

	api.HandleFunc("/send-time", h.IsTimeToSend).Methods(http.MethodGet)
	api.HandleFunc("/send-times", h.CalculateSendTimes).Methods(http.MethodPost)

	api.HandleFunc("/templates", h.GetAllTemplates).Methods(http.MethodGet)
	api.HandleFunc("/templates", h.CreateTemplate).Methods(http.MethodPost)
	api.HandleFunc("/templates/{id}", h.GetTemplate).Methods(http.MethodGet)
	api.HandleFunc("/templates/{id}", h.UpdateTemplate).Methods(http.MethodPut)
	api.HandleFunc("/templates/{id}", h.DeleteTemplate).Methods(http.MethodDelete)
}

func writeJson(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to convert to json", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// SendEmail relays one message through the configured transport. The answer
// status carries the transport's classification so a remote RetryingSender
// can tell retryable failures from terminal ones.
func (h *HttpHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	body := &internal.SendEmailRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeJson(w, 400, internal.SendEmailResponse{Error: "Failed to parse incoming json"})
		return
	}

	msg := &Message{
		To:      body.To,
		Subject: body.Subject,
		HTML:    body.Html,
		Text:    body.Text,
		Config: SMTPConfig{
			Host:      body.SMTPConfig.Host,
			Port:      body.SMTPConfig.Port,
			Username:  body.SMTPConfig.Username,
			Password:  body.SMTPConfig.Password,
			Secure:    body.SMTPConfig.Secure,
			FromEmail: body.SMTPConfig.FromEmail,
			FromName:  body.SMTPConfig.FromName,
		},
	}

	if err := h.app.SendEmail(r.Context(), msg); err != nil {
		h.app.logger.
			WithField("to", msg.To).
			WithError(err).
			Warn("relayed email failed")

		writeJson(w, HTTPStatus(err), internal.SendEmailResponse{Error: err.Error()})
		return
	}

	writeJson(w, 200, internal.SendEmailResponse{Success: true})
}

// SendNow runs a bulk send and streams one json line per progress update,
// followed by the final result. A client that goes away cancels the send
// after the attempt in flight.
func (h *HttpHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	body := &internal.BulkSendRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		http.Error(w, "Failed to parse incoming json", 400)
		return
	}

	profile, err := h.app.profileRepo.Get(body.ProfileId)
	if err != nil {
		h.writeLookupError(w, err, "profile")
		return
	}

	template, err := h.app.templateRepo.Get(body.TemplateId)
	if err != nil {
		h.writeLookupError(w, err, "template")
		return
	}

	list, err := h.app.receiverListRepo.Get(body.ReceiverListId)
	if err != nil {
		h.writeLookupError(w, err, "receiver list")
		return
	}

	bulk := h.app.NewBulkSender()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-r.Context().Done():
			bulk.Cancel()
		case <-done:
		}
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	emit := func(event string, payload interface{}) {
		encoder.Encode(struct {
			Event string      `json:"event"`
			Data  interface{} `json:"data"`
		}{event, payload})

		if flusher != nil {
			flusher.Flush()
		}
	}

	result := bulk.Send(context.WithoutCancel(r.Context()), BulkRequest{
		Receivers: list.Receivers,
		Template:  template,
		Profile:   profile,
	}, func(p BulkProgress) {
		emit("progress", p)
	})

	emit("result", result)
}

func (h *HttpHandler) writeLookupError(w http.ResponseWriter, err error, what string) {
	switch errors.Cause(err) {
	case TemplateNotFoundErr, ProfileNotFoundErr, SMTPConfigNotFoundErr, ReceiverListNotFoundErr, JobNotFoundErr:
		http.Error(w, err.Error(), 404)
	case NoValidReceiversErr:
		http.Error(w, err.Error(), 400)
	default:
		h.app.logger.WithError(err).Errorf("failed to retrieve %s", what)
		http.Error(w, "Failed to retrieve "+what, 500)
	}
}

func (h *HttpHandler) GetAllJobs(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Data []Job `json:"data"`
	}{h.app.jobs.List()}

	writeJson(w, 200, payload)
}

func (h *HttpHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		http.Error(w, "Route id var", 400)
		return
	}

	job, err := h.app.jobs.Get(id)
	if err != nil {
		h.writeLookupError(w, err, "job")
		return
	}

	writeJson(w, 200, job)
}

func (h *HttpHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	body := JobRequest{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Failed to parse incoming json", 400)
		return
	}

	if body.SendTime != "" {
		if _, _, err := ParseSendTime(body.SendTime); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
	}

	job, err := h.app.CreateJob(r.Context(), body)
	if err != nil {
		h.writeLookupError(w, err, "job references")
		return
	}

	writeJson(w, http.StatusCreated, job)
}

func (h *HttpHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		http.Error(w, "Route id var", 400)
		return
	}

	if err := h.app.DeleteJob(id); err != nil {
		if errors.Cause(err) == InvalidTransitionErr {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		h.writeLookupError(w, err, "job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HttpHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result := h.app.scheduler.TriggerSweepNow(r.Context())

	status := 200
	if result.Skipped {
		status = http.StatusAccepted
	}

	writeJson(w, status, result)
}

func (h *HttpHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJson(w, 200, h.app.scheduler.Status())
}

func (h *HttpHandler) IsTimeToSend(w http.ResponseWriter, r *http.Request) {
	timezone := r.URL.Query().Get("timezone")
	sendTime := r.URL.Query().Get("time")

	if timezone == "" || sendTime == "" {
		http.Error(w, "timezone and time are required", 400)
		return
	}

	payload := struct {
		Timezone string `json:"timezone"`
		Time     string `json:"time"`
		Due      bool   `json:"due"`
	}{timezone, sendTime, IsTimeToSend(timezone, sendTime, h.app.now())}

	writeJson(w, 200, payload)
}

func (h *HttpHandler) CalculateSendTimes(w http.ResponseWriter, r *http.Request) {
	body := &internal.SendTimesRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		http.Error(w, "Failed to parse incoming json", 400)
		return
	}

	hour, minute, err := ParseSendTime(body.SendTime)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	list, err := h.app.receiverListRepo.Get(body.ReceiverListId)
	if err != nil {
		h.writeLookupError(w, err, "receiver list")
		return
	}

	receivers := NormalizeReceivers(ValidReceivers(list.Receivers), h.app.resolver)
	groups := CalculateSendTimes(receivers, h.app.now(), hour, minute)

	payload := struct {
		Data     []TimezoneGroup `json:"data"`
		Earliest *time.Time      `json:"earliest,omitempty"`
	}{Data: groups}

	if earliest, ok := EarliestSendTime(groups); ok {
		payload.Earliest = &earliest
	}

	writeJson(w, 200, payload)
}

func (h *HttpHandler) GetAllTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.app.templateRepo.GetAll()
	if err != nil {
		http.Error(w, "Failed to retrieve templates", 500)
		return
	}

	payload := struct {
		Data []Template `json:"data"`
	}{templates}

	writeJson(w, 200, payload)
}

func (h *HttpHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		http.Error(w, "Route id var", 400)
		return
	}

	template, err := h.app.templateRepo.Get(id)
	if err != nil {
		h.writeLookupError(w, err, "template")
		return
	}

	writeJson(w, 200, template)
}

func (h *HttpHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	body := &internal.UpdateTemplateRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		http.Error(w, "Failed to parse incoming json", 400)
		return
	}

	if body.Subject == "" || body.Content == "" {
		http.Error(w, "subject and content are required", 400)
		return
	}

	now := h.app.now()
	template := Template{
		Id:        uuid.New().String(),
		Name:      body.Name,
		Subject:   body.Subject,
		Content:   body.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.app.templateRepo.Create(&template); err != nil {
		http.Error(w, "Failed to create template", 500)
		return
	}

	writeJson(w, http.StatusCreated, template)
}

func (h *HttpHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		http.Error(w, "Route id var", 400)
		return
	}

	template, err := h.app.templateRepo.Get(id)
	if err != nil {
		h.writeLookupError(w, err, "template")
		return
	}

	body := &internal.UpdateTemplateRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		http.Error(w, "Failed to parse incoming json", 400)
		return
	}

	template.Name = body.Name
	template.Subject = body.Subject
	template.Content = body.Content
	template.UpdatedAt = h.app.now()

	if err := h.app.templateRepo.Update(&template); err != nil {
		http.Error(w, "Failed to update template", 500)
		return
	}

	writeJson(w, 200, template)
}

func (h *HttpHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		http.Error(w, "Route id var", 400)
		return
	}

	template, err := h.app.templateRepo.Get(id)
	if err != nil {
		h.writeLookupError(w, err, "template")
		return
	}

	if err := h.app.templateRepo.Delete(&template); err != nil {
		http.Error(w, "Failed to delete template", 500)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
