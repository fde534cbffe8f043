package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"github.com/xuai/navigator/pkg/i18n"
)

// LocaleKey holds the request language.
const LocaleKey = "locale"

// LocaleMiddleware resolves the request language once and exposes it through
// the Content-Language header.
func LocaleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tag := i18n.Resolve(c.Request)
		c.Set(LocaleKey, tag)
		c.Header("Content-Language", tag.String())
		c.Next()
	}
}

// GetLocale returns the resolved language, or the default one when the
// middleware did not run.
func GetLocale(c *gin.Context) language.Tag {
	if v, ok := c.Get(LocaleKey); ok {
		if tag, ok := v.(language.Tag); ok {
			return tag
		}
	}
	return i18n.Resolve(c.Request)
}

// T translates key into the request language.
func T(c *gin.Context, key string, args ...any) string {
	return i18n.T(GetLocale(c), key, args...)
}

// Translator binds T to c, matching validation.Errors.Details.
func Translator(c *gin.Context) func(key string, args ...any) string {
	tag := GetLocale(c)
	return func(key string, args ...any) string {
		return i18n.T(tag, key, args...)
	}
}
