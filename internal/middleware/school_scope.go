package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/logger"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

// SchoolParam is the route parameter carrying the school id.
const SchoolParam = "schoolId"

// SchoolScope confines callers to the school in their token. Super admins may
// act on any school.
func SchoolScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		schoolID := c.Param(SchoolParam)
		if schoolID == "" {
			schoolID = claims.SchoolID
		}
		if schoolID != claims.SchoolID && claims.Role != models.RoleSuperAdmin {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "token is not valid for this school"))
			c.Abort()
			return
		}

		c.Set(logger.SchoolIDKey, schoolID)
		c.Next()
	}
}

// SchoolID returns the school resolved by SchoolScope.
func SchoolID(c *gin.Context) string {
	return c.GetString(logger.SchoolIDKey)
}
