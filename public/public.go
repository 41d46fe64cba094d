package public

import (
	"embed"
	"encoding/json"
	"html/template"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/idleonweb/idleonweb/internal/schema"
	"github.com/spf13/afero"
)

//go:embed templates static
var PublicFS embed.FS

// 常量定义
const (
	TemplatesDir  = "templates"
	StaticDir     = "static"
	IndexTemplate = "index.html.tmpl"
)

// isSafePath 验证路径是否在指定的基础目录内，防止路径穿透攻击
func isSafePath(basePath, targetPath string) bool {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(filepath.Join(absBase, filepath.Clean(targetPath)))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return false
	}
	// 如果相对路径以 .. 开头，说明目标在基础目录之外
	return !strings.HasPrefix(rel, "..") && rel != ".."
}

// elementView pairs an element with the plugin that owns it.
type elementView struct {
	Plugin  string
	Element schema.Element
}

var funcs = template.FuncMap{
	"elem": func(plugin string, el schema.Element) elementView {
		return elementView{Plugin: plugin, Element: el}
	},
	"json": func(v any) (template.JS, error) {
		b, err := json.Marshal(v)
		return template.JS(b), err
	},
	// value is the configured value of an element, falling back to its default.
	"value": func(el schema.Element) any {
		if el.Value != nil {
			return el.Value
		}
		return el.DefaultValue
	},
	"truthy": func(v any) bool {
		b, ok := v.(bool)
		return ok && b
	},
	"deref": func(f *float64) float64 {
		if f == nil {
			return 0
		}
		return *f
	},
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(PublicFS, path.Join(TemplatesDir, "*.tmpl"))
}

// Static serves /static/*path. A file below overrideDir on fsys wins over
// the embedded one of the same name.
func Static(r *gin.RouterGroup, fsys afero.Fs, overrideDir string) {
	embedded, err := fs.Sub(PublicFS, StaticDir)
	if err != nil {
		panic("public/static is missing from the build")
	}

	// 返回: content, contentType, exists
	getFileContent := func(relativePath string) ([]byte, string, bool) {
		cleanPath := filepath.Clean(strings.TrimPrefix(relativePath, "/"))

		if overrideDir != "" && fsys != nil && isSafePath(overrideDir, cleanPath) {
			localPath := filepath.Join(overrideDir, cleanPath)
			if info, err := fsys.Stat(localPath); err == nil && !info.IsDir() {
				if content, err := afero.ReadFile(fsys, localPath); err == nil {
					return content, mime.TypeByExtension(filepath.Ext(localPath)), true
				}
			}
			// 本地文件不存在，或读取失败 -> 继续向下回退
		}

		embedPath := filepath.ToSlash(cleanPath)
		if strings.Contains(embedPath, "..") {
			return nil, "", false
		}
		if content, err := fs.ReadFile(embedded, embedPath); err == nil {
			return content, mime.TypeByExtension(filepath.Ext(embedPath)), true
		}
		return nil, "", false
	}

	r.GET("/static/*path", func(c *gin.Context) {
		content, mimeType, ok := getFileContent(c.Param("path"))
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		c.Data(http.StatusOK, mimeType, content)
	})
}
