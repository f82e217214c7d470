package control

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greendrake/octocast/notify"
	"github.com/greendrake/octocast/octoprint"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Handler serves the printer and messaging endpoints.
type Handler struct {
	printer  *octoprint.Client
	notifier *notify.Notifier
}

func New(printer *octoprint.Client, notifier *notify.Notifier) *Handler {
	return &Handler{printer: printer, notifier: notifier}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.root)
	r.GET("/printer", h.printerState)
	r.GET("/files", h.files)
	r.POST("/printer/command", h.command)
	r.POST("/printer/temperature", h.temperature)
	r.POST("/printer/move", h.move)
	r.POST("/send_sms", h.sendSMS)
	r.POST("/send_whatsapp", h.sendWhatsApp)
	r.POST("/whatsapp_webhook", h.webhook)
}

// fail answers with OctoPrint's own status when it refused the request, 500 otherwise.
func fail(c *gin.Context, err error) {
	c.Error(err)
	var oe *octoprint.Error
	if errors.As(err, &oe) {
		c.AbortWithStatusJSON(oe.StatusCode, gin.H{"detail": oe.Detail})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
}

func invalid(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": detail})
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "OctoPrint relay server running"})
}

func (h *Handler) printerState(c *gin.Context) {
	state, err := h.printer.PrinterState(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) files(c *gin.Context) {
	files, err := h.printer.Files(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) command(c *gin.Context) {
	ctx := c.Request.Context()
	command := c.Query("command")
	var err error
	switch command {
	case octoprint.JobPause, octoprint.JobResume, octoprint.JobCancel:
		err = h.printer.JobCommand(ctx, command)
	case "start":
		file := c.Query("file_name")
		if file == "" {
			invalid(c, "No file selected for printing")
			return
		}
		err = h.printer.StartPrint(ctx, file)
	default:
		invalid(c, "Invalid command")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	log.WithField("command", command).Info("Printer command sent")
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Command '%s' sent successfully", command)})
}

type temperatureRequest struct {
	HotendTemp *float64 `json:"hotend_temp"`
	BedTemp    *float64 `json:"bed_temp"`
}

func (h *Handler) temperature(c *gin.Context) {
	var req temperatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if req.HotendTemp != nil {
		if err := h.printer.SetToolTemperature(ctx, *req.HotendTemp); err != nil {
			fail(c, err)
			return
		}
	}
	if req.BedTemp != nil {
		if err := h.printer.SetBedTemperature(ctx, *req.BedTemp); err != nil {
			fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Temperature command(s) sent successfully"})
}

func (h *Handler) move(c *gin.Context) {
	var req octoprint.Move
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err.Error())
		return
	}
	gcode, err := octoprint.MoveCommand(req)
	if err != nil {
		invalid(c, "No movement axis specified")
		return
	}
	if err := h.printer.SendGCode(c.Request.Context(), gcode); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sent command: " + gcode})
}

type messageRequest struct {
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (h *Handler) sendSMS(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err.Error())
		return
	}
	sid, err := h.notifier.SendSMS(c.Request.Context(), req.To, req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "SMS sent successfully!", "sid": sid})
}

func (h *Handler) sendWhatsApp(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err.Error())
		return
	}
	sid, err := h.notifier.SendWhatsApp(c.Request.Context(), req.To, req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "WhatsApp message sent successfully!", "sid": sid})
}

// webhook answers a message Twilio forwards from WhatsApp.
func (h *Handler) webhook(c *gin.Context) {
	body := c.PostForm("Body")
	log.WithField("from", c.PostForm("From")).Infof("Incoming message: %q", body)
	reply, err := notify.TwiML(h.notifier.HandleCommand(c.Request.Context(), body))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml", reply)
}
