package dashboard

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/practice-dashboard/internal/practice"
)

var _ practice.Repository = &repositoryMock{}

type repositoryMock struct {
	CountAppointmentsOnFunc   func(ctx context.Context, practitionerID uuid.UUID, day string) (int, error)
	CountDistinctPatientsFunc func(ctx context.Context, practitionerID uuid.UUID) (int, error)
	CountReviewsFunc          func(ctx context.Context, practitionerID uuid.UUID, status practice.ReviewStatus) (int, error)
	AverageRatingFunc         func(ctx context.Context, practitionerID uuid.UUID) (float64, error)
	ListAppointmentsOnFunc    func(ctx context.Context, practitionerID uuid.UUID, day string) ([]practice.Appointment, error)
	ListPatientsByIDsFunc     func(ctx context.Context, ids []uuid.UUID) ([]practice.Patient, error)
	ListChambersFunc          func(ctx context.Context, practitionerID uuid.UUID) ([]practice.Chamber, error)
	GetPractitionerByIDFunc   func(ctx context.Context, id uuid.UUID) (*practice.Practitioner, error)

	calls struct {
		CountAppointmentsOn []struct {
			Ctx            context.Context
			PractitionerID uuid.UUID
			Day            string
		}
		CountDistinctPatients []struct {
			Ctx            context.Context
			PractitionerID uuid.UUID
		}
		CountReviews []struct {
			Ctx            context.Context
			PractitionerID uuid.UUID
			Status         practice.ReviewStatus
		}
		AverageRating []struct {
			Ctx            context.Context
			PractitionerID uuid.UUID
		}
		ListAppointmentsOn []struct {
			Ctx            context.Context
			PractitionerID uuid.UUID
			Day            string
		}
		ListPatientsByIDs []struct {
			Ctx context.Context
			IDs []uuid.UUID
		}
		ListChambers []struct {
			Ctx            context.Context
			PractitionerID uuid.UUID
		}
		GetPractitionerByID []struct {
			Ctx context.Context
			ID  uuid.UUID
		}
	}
	lockCountAppointmentsOn   sync.RWMutex
	lockCountDistinctPatients sync.RWMutex
	lockCountReviews          sync.RWMutex
	lockAverageRating         sync.RWMutex
	lockListAppointmentsOn    sync.RWMutex
	lockListPatientsByIDs     sync.RWMutex
	lockListChambers          sync.RWMutex
	lockGetPractitionerByID   sync.RWMutex
}

func (mock *repositoryMock) CountAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) (int, error) {
	if mock.CountAppointmentsOnFunc == nil {
		panic("repositoryMock.CountAppointmentsOnFunc: method is nil but Repository.CountAppointmentsOn was just called")
	}
	callInfo := struct {
		Ctx            context.Context
		PractitionerID uuid.UUID
		Day            string
	}{Ctx: ctx, PractitionerID: practitionerID, Day: day}
	mock.lockCountAppointmentsOn.Lock()
	mock.calls.CountAppointmentsOn = append(mock.calls.CountAppointmentsOn, callInfo)
	mock.lockCountAppointmentsOn.Unlock()
	return mock.CountAppointmentsOnFunc(ctx, practitionerID, day)
}

func (mock *repositoryMock) CountAppointmentsOnCalls() []struct {
	Ctx            context.Context
	PractitionerID uuid.UUID
	Day            string
} {
	mock.lockCountAppointmentsOn.RLock()
	calls := mock.calls.CountAppointmentsOn
	mock.lockCountAppointmentsOn.RUnlock()
	return calls
}

func (mock *repositoryMock) CountDistinctPatients(ctx context.Context, practitionerID uuid.UUID) (int, error) {
	if mock.CountDistinctPatientsFunc == nil {
		panic("repositoryMock.CountDistinctPatientsFunc: method is nil but Repository.CountDistinctPatients was just called")
	}
	callInfo := struct {
		Ctx            context.Context
		PractitionerID uuid.UUID
	}{Ctx: ctx, PractitionerID: practitionerID}
	mock.lockCountDistinctPatients.Lock()
	mock.calls.CountDistinctPatients = append(mock.calls.CountDistinctPatients, callInfo)
	mock.lockCountDistinctPatients.Unlock()
	return mock.CountDistinctPatientsFunc(ctx, practitionerID)
}

func (mock *repositoryMock) CountDistinctPatientsCalls() []struct {
	Ctx            context.Context
	PractitionerID uuid.UUID
} {
	mock.lockCountDistinctPatients.RLock()
	calls := mock.calls.CountDistinctPatients
	mock.lockCountDistinctPatients.RUnlock()
	return calls
}

func (mock *repositoryMock) CountReviews(ctx context.Context, practitionerID uuid.UUID, status practice.ReviewStatus) (int, error) {
	if mock.CountReviewsFunc == nil {
		panic("repositoryMock.CountReviewsFunc: method is nil but Repository.CountReviews was just called")
	}
	callInfo := struct {
		Ctx            context.Context
		PractitionerID uuid.UUID
		Status         practice.ReviewStatus
	}{Ctx: ctx, PractitionerID: practitionerID, Status: status}
	mock.lockCountReviews.Lock()
	mock.calls.CountReviews = append(mock.calls.CountReviews, callInfo)
	mock.lockCountReviews.Unlock()
	return mock.CountReviewsFunc(ctx, practitionerID, status)
}

func (mock *repositoryMock) CountReviewsCalls() []struct {
	Ctx            context.Context
	PractitionerID uuid.UUID
	Status         practice.ReviewStatus
} {
	mock.lockCountReviews.RLock()
	calls := mock.calls.CountReviews
	mock.lockCountReviews.RUnlock()
	return calls
}

func (mock *repositoryMock) AverageRating(ctx context.Context, practitionerID uuid.UUID) (float64, error) {
	if mock.AverageRatingFunc == nil {
		panic("repositoryMock.AverageRatingFunc: method is nil but Repository.AverageRating was just called")
	}
	callInfo := struct {
		Ctx            context.Context
		PractitionerID uuid.UUID
	}{Ctx: ctx, PractitionerID: practitionerID}
	mock.lockAverageRating.Lock()
	mock.calls.AverageRating = append(mock.calls.AverageRating, callInfo)
	mock.lockAverageRating.Unlock()
	return mock.AverageRatingFunc(ctx, practitionerID)
}

func (mock *repositoryMock) AverageRatingCalls() []struct {
	Ctx            context.Context
	PractitionerID uuid.UUID
} {
	mock.lockAverageRating.RLock()
	calls := mock.calls.AverageRating
	mock.lockAverageRating.RUnlock()
	return calls
}

func (mock *repositoryMock) ListAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) ([]practice.Appointment, error) {
	if mock.ListAppointmentsOnFunc == nil {
		panic("repositoryMock.ListAppointmentsOnFunc: method is nil but Repository.ListAppointmentsOn was just called")
	}
	callInfo := struct {
		Ctx            context.Context
		PractitionerID uuid.UUID
		Day            string
	}{Ctx: ctx, PractitionerID: practitionerID, Day: day}
	mock.lockListAppointmentsOn.Lock()
	mock.calls.ListAppointmentsOn = append(mock.calls.ListAppointmentsOn, callInfo)
	mock.lockListAppointmentsOn.Unlock()
	return mock.ListAppointmentsOnFunc(ctx, practitionerID, day)
}

func (mock *repositoryMock) ListAppointmentsOnCalls() []struct {
	Ctx            context.Context
	PractitionerID uuid.UUID
	Day            string
} {
	mock.lockListAppointmentsOn.RLock()
	calls := mock.calls.ListAppointmentsOn
	mock.lockListAppointmentsOn.RUnlock()
	return calls
}

func (mock *repositoryMock) ListPatientsByIDs(ctx context.Context, ids []uuid.UUID) ([]practice.Patient, error) {
	if mock.ListPatientsByIDsFunc == nil {
		panic("repositoryMock.ListPatientsByIDsFunc: method is nil but Repository.ListPatientsByIDs was just called")
	}
	callInfo := struct {
		Ctx context.Context
		IDs []uuid.UUID
	}{Ctx: ctx, IDs: ids}
	mock.lockListPatientsByIDs.Lock()
	mock.calls.ListPatientsByIDs = append(mock.calls.ListPatientsByIDs, callInfo)
	mock.lockListPatientsByIDs.Unlock()
	return mock.ListPatientsByIDsFunc(ctx, ids)
}

func (mock *repositoryMock) ListPatientsByIDsCalls() []struct {
	Ctx context.Context
	IDs []uuid.UUID
} {
	mock.lockListPatientsByIDs.RLock()
	calls := mock.calls.ListPatientsByIDs
	mock.lockListPatientsByIDs.RUnlock()
	return calls
}

func (mock *repositoryMock) ListChambers(ctx context.Context, practitionerID uuid.UUID) ([]practice.Chamber, error) {
	if mock.ListChambersFunc == nil {
		panic("repositoryMock.ListChambersFunc: method is nil but Repository.ListChambers was just called")
	}
	callInfo := struct {
		Ctx            context.Context
		PractitionerID uuid.UUID
	}{Ctx: ctx, PractitionerID: practitionerID}
	mock.lockListChambers.Lock()
	mock.calls.ListChambers = append(mock.calls.ListChambers, callInfo)
	mock.lockListChambers.Unlock()
	return mock.ListChambersFunc(ctx, practitionerID)
}

func (mock *repositoryMock) ListChambersCalls() []struct {
	Ctx            context.Context
	PractitionerID uuid.UUID
} {
	mock.lockListChambers.RLock()
	calls := mock.calls.ListChambers
	mock.lockListChambers.RUnlock()
	return calls
}

func (mock *repositoryMock) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*practice.Practitioner, error) {
	if mock.GetPractitionerByIDFunc == nil {
		panic("repositoryMock.GetPractitionerByIDFunc: method is nil but Repository.GetPractitionerByID was just called")
	}
	callInfo := struct {
		Ctx context.Context
		ID  uuid.UUID
	}{Ctx: ctx, ID: id}
	mock.lockGetPractitionerByID.Lock()
	mock.calls.GetPractitionerByID = append(mock.calls.GetPractitionerByID, callInfo)
	mock.lockGetPractitionerByID.Unlock()
	return mock.GetPractitionerByIDFunc(ctx, id)
}

func (mock *repositoryMock) GetPractitionerByIDCalls() []struct {
	Ctx context.Context
	ID  uuid.UUID
} {
	mock.lockGetPractitionerByID.RLock()
	calls := mock.calls.GetPractitionerByID
	mock.lockGetPractitionerByID.RUnlock()
	return calls
}
