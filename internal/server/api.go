package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/coordinator"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/idleonweb/idleonweb/internal/schema"
	"github.com/idleonweb/idleonweb/public"
)

// ErrDispatch marks a UI request that names no known element.
var ErrDispatch = errors.New("ui-dispatch")

const pageTitle = "IdleonWeb"

type handlers struct {
	co    *coordinator.Coordinator
	store *conf.Store
	reg   *plugin.Registry
}

func (h *handlers) register(r *gin.Engine) {
	r.GET("/", h.index)
	r.GET("/ws/status", h.statusFeed)

	api := r.Group("/api", noStore)
	api.POST("/plugin-ui-action", h.uiAction)
	api.POST("/autocomplete", h.autocomplete)
	api.POST("/dark-mode", h.darkMode)
	api.GET("/schema", h.schema)
	api.GET("/status", h.status)
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Next()
}

// elementRequest accepts both the long and the short field names.
type elementRequest struct {
	PluginName  string `json:"plugin_name"`
	Plugin      string `json:"plugin"`
	ElementName string `json:"element_name"`
	Element     string `json:"element"`
	Value       any    `json:"value"`
	Query       string `json:"query"`
}

func (r elementRequest) ids() (string, string) {
	p, el := r.PluginName, r.ElementName
	if p == "" {
		p = r.Plugin
	}
	if el == "" {
		el = r.Element
	}
	return p, el
}

func bindElement(c *gin.Context) (elementRequest, string, string, bool) {
	var req elementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, "", "", false
	}
	p, el := req.ids()
	if p == "" || el == "" {
		RespondError(c, http.StatusBadRequest, "Missing plugin_name or element_name")
		return req, "", "", false
	}
	return req, p, el, true
}

func (h *handlers) uiAction(c *gin.Context) {
	req, p, el, ok := bindElement(c)
	if !ok {
		return
	}
	out, err := h.co.DispatchUI(c.Request.Context(), p, el, req.Value)
	switch {
	case errors.Is(err, plugin.ErrUnknownPlugin), errors.Is(err, plugin.ErrUnknownElement):
		RespondError(c, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrDispatch, err).Error())
	case err != nil:
		RespondError(c, http.StatusInternalServerError, "Error handling UI action: "+err.Error())
	default:
		RespondData(c, http.StatusOK, out)
	}
}

func (h *handlers) autocomplete(c *gin.Context) {
	req, p, el, ok := bindElement(c)
	if !ok {
		return
	}
	list, err := h.co.Autocomplete(c.Request.Context(), p, el, req.Query)
	if err != nil {
		// suggestions are advisory
		_ = c.Error(err)
		list = []string{}
	}
	RespondData(c, http.StatusOK, list)
}

type darkModeRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *handlers) darkMode(c *gin.Context) {
	var req darkModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.store.Set(conf.KeyWebUIDarkMode, req.Enabled); err != nil {
		RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	RespondData(c, http.StatusOK, gin.H{"success": true, "darkmode": req.Enabled})
}

func (h *handlers) tree() schema.Tree {
	return schema.Extract(h.reg.Descriptors()).WithValues(h.store.GetPlugin)
}

func (h *handlers) schema(c *gin.Context) {
	RespondData(c, http.StatusOK, h.tree())
}

func (h *handlers) status(c *gin.Context) {
	RespondData(c, http.StatusOK, h.co.Status())
}

type indexPage struct {
	Title    string
	DarkMode bool
	UseTabs  bool
	Plugins  []schema.Plugin
	Groups   []schema.Group
	Status   coordinator.Session
	Tree     schema.Tree
}

func (h *handlers) index(c *gin.Context) {
	tree := h.tree()
	// only plugins with controls get a card
	withUI := schema.Tree{}
	for _, p := range tree.Plugins {
		if len(p.Categories) > 0 {
			withUI.Plugins = append(withUI.Plugins, p)
		}
	}
	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, public.IndexTemplate, indexPage{
		Title:    pageTitle,
		DarkMode: h.store.GetBool(conf.KeyWebUIDarkMode, false),
		UseTabs:  len(withUI.Plugins) > 1,
		Plugins:  withUI.Plugins,
		Groups:   withUI.Groups(),
		Status:   h.co.Status(),
		Tree:     tree,
	})
}
