package translator

import (
	"context"
	"fmt"
	"sync"

	gst "github.com/richinsley/goshadertranslator"
)

// Translator turns WebGL2 fragment shaders into desktop GLSL 4.10.
type Translator struct {
	mu sync.Mutex
	st *gst.ShaderTranslator
}

var (
	once       sync.Once
	translator *Translator
	initErr    error
)

// GetTranslator returns the process wide translator, creating it on first use.
func GetTranslator() (*Translator, error) {
	once.Do(func() {
		var st *gst.ShaderTranslator
		st, initErr = gst.NewShaderTranslator(context.Background())
		if initErr != nil {
			initErr = fmt.Errorf("failed to create shader translator: %w", initErr)
			return
		}
		translator = &Translator{st: st}
	})
	return translator, initErr
}

// Translate returns the translated code and the mapping from each source
// variable name to its name in the output. Calls are serialized: the
// underlying module instance is not safe for concurrent use.
func (t *Translator) Translate(source string) (string, map[string]string, error) {
	t.mu.Lock()
	res, err := t.st.TranslateShader(source, "fragment", gst.ShaderSpecWebGL2, gst.OutputFormatGLSL410)
	t.mu.Unlock()
	if err != nil {
		return "", nil, fmt.Errorf("fragment shader translation failed: %w", err)
	}
	names := make(map[string]string, len(res.Variables))
	for name, v := range res.Variables {
		names[name] = v.MappedName
	}
	return res.Code, names, nil
}
