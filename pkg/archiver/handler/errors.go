package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/problem"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/services"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/loopfz/gadgeto/tonic"
)

// ErrorHook renders every handler error as application/problem+json. Install
// it with tonic.SetErrorHook.
func ErrorHook(c *gin.Context, err error) (int, interface{}) {
	var be tonic.BindError
	if errors.As(err, &be) || isValidationErr(err) {
		invalids := invalidParamsFromBinding(err)
		apiErr := problem.NewBadRequest("body", "Invalid request", invalids...)
		c.Header("Content-Type", "application/problem+json")
		return apiErr.Status, apiErr
	}

	var apiErr problem.APIError
	if errors.As(err, &apiErr) {
		c.Header("Content-Type", "application/problem+json")
		return apiErr.Status, apiErr
	}

	internal := problem.NewInternalServerError(err.Error())
	c.Header("Content-Type", "application/problem+json")
	return internal.Status, internal
}

// boundInputs are the request types tonic binds, keyed by the struct name
// that leads a validator namespace.
var boundInputs = typesByName(
	models.CreateJobInput{},
	models.JobParams{},
	models.QuizJobsParams{},
	models.AdminStatusInput{},
	models.BackupUpdateInput{},
	models.UpdateStatusInput{},
	models.UploadInput{},
	models.ArtifactUploadedInput{},
	models.BackupStatusInput{},
)

func typesByName(samples ...any) map[string]reflect.Type {
	out := make(map[string]reflect.Type, len(samples))
	for _, s := range samples {
		t := reflect.TypeOf(s)
		out[t.Name()] = t
	}
	return out
}

func invalidParamsFromBinding(err error) []problem.InvalidParam {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []problem.InvalidParam{{Name: "body", Reason: err.Error()}}
	}

	out := make([]problem.InvalidParam, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, problem.InvalidParam{
			Name:   wireName(fe),
			Reason: humanReason(fe),
		})
	}
	return out
}

// wireName maps a validator namespace such as
// "ArtifactUploadedInput.Artifact.Ref" onto the request field names
// ("artifact.ref").
func wireName(fe validator.FieldError) string {
	segs := strings.Split(fe.StructNamespace(), ".")
	t, ok := boundInputs[segs[0]]
	if !ok || len(segs) < 2 {
		return fe.Field()
	}

	names := make([]string, 0, len(segs)-1)
	for _, seg := range segs[1:] {
		field, index, _ := strings.Cut(seg, "[")
		for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice || t.Kind() == reflect.Map {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return fe.Field()
		}
		f, ok := t.FieldByName(field)
		if !ok {
			return fe.Field()
		}
		name := paramName(f)
		if index != "" {
			name += "[" + index
		}
		names = append(names, name)
		t = f.Type
	}
	return strings.Join(names, ".")
}

func paramName(f reflect.StructField) string {
	for _, key := range []string{"json", "path", "query", "header"} {
		if tag := strings.Split(f.Tag.Get(key), ",")[0]; tag != "" && tag != "-" {
			return tag
		}
	}
	return f.Name
}

func humanReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL (e.g. https://...)"
	default:
		return fe.Error()
	}
}

func isValidationErr(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

// toProblem maps service and repository sentinels onto problem responses.
// Errors it does not know are returned unchanged.
func toProblem(err error, location string) error {
	var apiErr problem.APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, repositories.ErrJobNotFound):
		return problem.NewNotFound(location, "Archive job not found")
	case errors.Is(err, repositories.ErrBackupNotFound):
		return problem.NewNotFound(location, "Backup not found")
	case errors.Is(err, services.ErrNotSigned):
		return problem.NewNotFound(location, "Archive job has no timestamp")
	case errors.Is(err, services.ErrAccessDenied):
		return problem.NewForbidden(location, "Access to this archive job is denied")
	case errors.Is(err, models.ErrAlreadyComplete),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, services.ErrStatusConflict),
		errors.Is(err, services.ErrAlreadySigned),
		errors.Is(err, services.ErrNoArtifact),
		errors.Is(err, services.ErrSigningDisabled),
		errors.Is(err, services.ErrBackupFinal):
		return problem.NewConflict(location, err.Error())
	case errors.Is(err, services.ErrInvalidBackup):
		return problem.NewBadRequest(location, err.Error())
	case errors.Is(err, services.ErrChecksumMismatch):
		return problem.NewIntegrityError(location, "Stored artifact does not match its recorded checksum")
	case errors.Is(err, services.ErrSigningFailed):
		return problem.NewBadGateway(location, err.Error())
	}
	return err
}
