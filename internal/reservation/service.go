package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studyroom-backend/config"
	"studyroom-backend/internal/model"
	"studyroom-backend/internal/penalty"
	"studyroom-backend/internal/store"
)

// TokenCache is the short-TTL QR token lookup collaborator. Every call is
// best-effort: the service tolerates its unavailability because the token
// is also persisted on the Reservation record.
type TokenCache interface {
	Set(ctx context.Context, token string, reservationID int64) error
	Lookup(ctx context.Context, token string) (int64, bool, error)
	Invalidate(ctx context.Context, token string) error
}

// Notifier delivers a notice to a member's registered push subscriptions.
// Delivery failures never propagate into the reservation flow.
type Notifier interface {
	Notify(memberID int64, message string)
}

// Service owns the Reservation lifecycle: booking, QR issuance, check-in
// classification, cancellation, the sweep transitions, and compensation
// when a step after the slot mutation fails.
type Service struct {
	store       store.Store
	validator   *Validator
	coordinator *Coordinator
	penalties   penalty.Assigner
	tokens      TokenCache
	notifier    Notifier
	cfg         config.ReservationConfig
	now         func() time.Time
}

// NewService wires the lifecycle manager. tokens and notifier may be nil;
// penalties may be penalty.Noop{}.
func NewService(s store.Store, v *Validator, c *Coordinator, p penalty.Assigner,
	tokens TokenCache, notifier Notifier, cfg config.ReservationConfig) *Service {
	if p == nil {
		p = penalty.Noop{}
	}
	return &Service{
		store:       s,
		validator:   v,
		coordinator: c,
		penalties:   p,
		tokens:      tokens,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Book validates the request, reserves the slots through the coordinator,
// and persists the Reservation record in its own transaction. If that
// persistence fails after the slot mutation committed, the coordinator
// compensates by reverting occupancy before the error is surfaced.
func (svc *Service) Book(ctx context.Context, req BookingRequest) (*model.Reservation, error) {
	intent, err := svc.validator.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := svc.coordinator.Reserve(ctx, intent); err != nil {
		return nil, err
	}

	res := &model.Reservation{
		MemberID:    req.MemberID,
		FirstSlotID: intent.SlotIDs[0],
		RoomID:      intent.RoomID,
		Date:        intent.Date,
		StartAt:     intent.StartAt,
		EndAt:       intent.EndAt,
		PartySize:   intent.PartySize,
		Status:      model.StatusReserved,
	}
	if len(intent.SlotIDs) == 2 {
		second := intent.SlotIDs[1]
		res.SecondSlotID = &second
	}

	err = svc.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Authoritative duplicate-booking guard, inside the record
		// transaction so two racing bookings naming the same member
		// cannot both pass the advisory check.
		open, err := openReservationCount(tx, req.memberIDs())
		if err != nil {
			return err
		}
		if open > 0 {
			return validationErr(ReasonDuplicateBooking, "an open reservation already exists")
		}

		if err := tx.Create(res).Error; err != nil {
			return err
		}
		if len(req.Participants) > 0 {
			var members []model.Member
			if err := tx.Find(&members, req.Participants).Error; err != nil {
				return err
			}
			if len(members) != len(req.Participants) {
				return validationErr(ReasonNotFound, "one or more participants not found")
			}
			if err := tx.Model(res).Association("Participants").Replace(&members); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if cerr := svc.coordinator.Compensate(intent.SlotIDs, intent.PartySize); cerr != nil {
			log.Printf("SEVERE: booking for member %d left slots %v inconsistent: %v",
				req.MemberID, intent.SlotIDs, cerr)
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, fmt.Errorf("reservation persistence failed: %w", err)
	}
	return res, nil
}

// openReservationCount counts open reservations in which any of the given
// members is the holder or a group participant. Run on the record
// transaction's handle, it is the authoritative side of the
// at-most-one-active rule; the validator's pre-check is only advisory.
func openReservationCount(tx *gorm.DB, memberIDs []int64) (int64, error) {
	var open int64
	if err := tx.Model(&model.Reservation{}).
		Where("member_id IN ? AND status IN ?", memberIDs, model.OpenStatuses).
		Count(&open).Error; err != nil {
		return 0, err
	}
	if open > 0 {
		return open, nil
	}

	err := tx.Table("reservation_participants").
		Joins("JOIN reservations ON reservations.id = reservation_participants.reservation_id").
		Where("reservation_participants.member_id IN ? AND reservations.status IN ?", memberIDs, model.OpenStatuses).
		Count(&open).Error
	return open, err
}

// Get loads a reservation visible to the given member.
func (svc *Service) Get(ctx context.Context, memberID, reservationID int64) (*model.Reservation, error) {
	var res model.Reservation
	err := svc.store.DB().WithContext(ctx).
		Preload("Participants").
		First(&res, reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationErr(ReasonNotFound, "reservation %d not found", reservationID)
	}
	if err != nil {
		return nil, err
	}
	if res.MemberID != memberID && !isParticipant(&res, memberID) {
		return nil, validationErr(ReasonNotHolder, "reservation %d does not belong to member %d", reservationID, memberID)
	}
	return &res, nil
}

func isParticipant(res *model.Reservation, memberID int64) bool {
	for _, p := range res.Participants {
		if p.ID == memberID {
			return true
		}
	}
	return false
}

// IssueQR returns the reservation's entry token, generating and storing a
// new one on first call. Issuance is idempotent while the reservation is
// RESERVED and rejected with the blocking status otherwise.
func (svc *Service) IssueQR(ctx context.Context, memberID, reservationID int64) (string, error) {
	var token string
	err := svc.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res model.Reservation
		if err := tx.First(&res, reservationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErr(ReasonNotFound, "reservation %d not found", reservationID)
			}
			return err
		}
		if res.MemberID != memberID {
			return validationErr(ReasonNotHolder, "only the holder may issue the entry QR")
		}
		if res.Status != model.StatusReserved {
			return &IssuanceNotAllowedError{Status: res.Status}
		}
		if res.QRToken != nil {
			token = *res.QRToken
			return nil
		}

		token = uuid.NewString()
		result := tx.Model(&model.Reservation{}).
			Where("id = ? AND status = ? AND qr_token IS NULL", res.ID, model.StatusReserved).
			Update("qr_token", token)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Raced with a concurrent issuance; the stored token wins.
			if err := tx.First(&res, reservationID).Error; err != nil {
				return err
			}
			if res.QRToken == nil {
				return &IssuanceNotAllowedError{Status: res.Status}
			}
			token = *res.QRToken
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	svc.cacheToken(ctx, token, reservationID)
	return token, nil
}

// CheckIn resolves the presented token and classifies the entry against
// the scheduled window: on time inside the threshold, LATE past it (with
// a penalty assigned exactly once), rejected before the start or past the
// end. A successful check-in consumes the token.
func (svc *Service) CheckIn(ctx context.Context, token string) (*model.Reservation, error) {
	at := svc.now()

	res, err := svc.lookupByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if res.Status != model.StatusReserved {
		return nil, validationErr(ReasonWrongStatus, "reservation is already %s", res.Status)
	}

	start, end := res.StartAt, res.EndAt
	switch {
	case at.Before(start):
		return nil, validationErr(ReasonNotYetTime, "entry opens at %s", start.Format(time.RFC3339))
	case !at.Before(end):
		return nil, validationErr(ReasonExpired, "reservation ended at %s", end.Format(time.RFC3339))
	}

	status := model.StatusEntrance
	if at.After(start.Add(svc.cfg.LateThreshold)) {
		status = model.StatusLate
	}

	result := svc.store.DB().WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ? AND status = ?", res.ID, model.StatusReserved).
		Updates(map[string]any{"status": status, "entered_at": at, "qr_token": nil})
	if result.Error != nil {
		return nil, fmt.Errorf("check-in transition failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, validationErr(ReasonWrongStatus, "reservation was transitioned concurrently")
	}

	svc.invalidateToken(ctx, token)
	if status == model.StatusLate {
		svc.assignPenalty(ctx, res.MemberID, res.ID, penalty.ReasonLate)
		svc.notify(res.MemberID, "You checked in late; a penalty has been recorded.")
	}

	res.Status = status
	res.EnteredAt = &at
	res.QRToken = nil
	return res, nil
}

// lookupByToken resolves a token to its reservation, trying the cache
// first and falling back to the record itself.
func (svc *Service) lookupByToken(ctx context.Context, token string) (*model.Reservation, error) {
	if token == "" {
		return nil, validationErr(ReasonTokenInvalid, "empty token")
	}

	var res model.Reservation
	if svc.tokens != nil {
		id, ok, err := svc.tokens.Lookup(ctx, token)
		if err != nil {
			log.Printf("QR cache lookup failed, falling back to store: %v", err)
		} else if ok {
			err := svc.store.DB().WithContext(ctx).First(&res, id).Error
			if err == nil && res.QRToken != nil && *res.QRToken == token {
				return &res, nil
			}
			// Stale cache entry; fall through to the record lookup.
		}
	}

	err := svc.store.DB().WithContext(ctx).Where("qr_token = ?", token).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationErr(ReasonTokenInvalid, "unknown or consumed token")
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel transitions a RESERVED reservation to CANCELLED and then, in a
// separate transaction, releases every held slot. The release is
// independently retriable from the record mutation: if it fails (slot
// contention), the reservation stays CANCELLED with the seats still held,
// and a repeated Cancel retries just the release.
func (svc *Service) Cancel(ctx context.Context, memberID, reservationID int64) error {
	var res model.Reservation
	err := svc.store.DB().WithContext(ctx).First(&res, reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return validationErr(ReasonNotFound, "reservation %d not found", reservationID)
	}
	if err != nil {
		return err
	}
	if res.MemberID != memberID {
		return validationErr(ReasonNotHolder, "only the holder may cancel")
	}
	switch {
	case res.Status == model.StatusReserved:
	case res.Status == model.StatusCancelled && res.ReleasedAt == nil:
		// An earlier cancellation flipped the status but the release
		// failed; retry only the release.
		return svc.releaseCancelled(ctx, &res)
	default:
		return validationErr(ReasonWrongStatus, "reservation is already %s", res.Status)
	}

	result := svc.store.DB().WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ? AND status = ?", res.ID, model.StatusReserved).
		Updates(map[string]any{"status": model.StatusCancelled, "qr_token": nil})
	if result.Error != nil {
		return fmt.Errorf("cancellation failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return validationErr(ReasonWrongStatus, "reservation was transitioned concurrently")
	}

	if res.QRToken != nil {
		svc.invalidateToken(ctx, *res.QRToken)
	}

	if svc.cfg.CancelPenaltyWindow > 0 && svc.now().After(res.StartAt.Add(-svc.cfg.CancelPenaltyWindow)) {
		svc.assignPenalty(ctx, res.MemberID, res.ID, penalty.ReasonCancel)
	}

	return svc.releaseCancelled(ctx, &res)
}

// releaseCancelled frees the seats held by a cancelled reservation,
// exactly once. The released_at claim keeps concurrent retries from
// double-decrementing occupancy; on a failed release the claim is
// reopened so the next Cancel can retry.
func (svc *Service) releaseCancelled(ctx context.Context, res *model.Reservation) error {
	claim := svc.store.DB().WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ? AND status = ? AND released_at IS NULL", res.ID, model.StatusCancelled).
		Update("released_at", svc.now())
	if claim.Error != nil {
		return fmt.Errorf("claiming slot release failed: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return validationErr(ReasonWrongStatus, "reservation was transitioned concurrently")
	}

	if err := svc.coordinator.ReleaseSlots(ctx, res.SlotIDs(), res.PartySize); err != nil {
		if uerr := svc.store.DB().WithContext(ctx).
			Model(&model.Reservation{}).
			Where("id = ?", res.ID).
			Update("released_at", nil).Error; uerr != nil {
			log.Printf("SEVERE: could not reopen the release claim for reservation %d: %v", res.ID, uerr)
		}
		log.Printf("SEVERE: slot release after cancelling reservation %d failed: %v", res.ID, err)
		return fmt.Errorf("slot release after cancellation failed: %w", err)
	}
	return nil
}

// MarkNoShows transitions every RESERVED reservation whose window elapsed
// without a presented QR to NO_SHOW, assigning the penalty once per
// reservation. Idempotent: the status predicate makes reapplication a
// no-op.
func (svc *Service) MarkNoShows(ctx context.Context, now time.Time) (int, error) {
	var due []model.Reservation
	if err := svc.store.DB().WithContext(ctx).
		Where("status = ? AND end_at <= ?", model.StatusReserved, now).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("no-show scan failed: %w", err)
	}

	count := 0
	for _, res := range due {
		result := svc.store.DB().WithContext(ctx).
			Model(&model.Reservation{}).
			Where("id = ? AND status = ?", res.ID, model.StatusReserved).
			Updates(map[string]any{"status": model.StatusNoShow, "qr_token": nil})
		if result.Error != nil {
			return count, fmt.Errorf("no-show transition for reservation %d failed: %w", res.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		count++
		if res.QRToken != nil {
			svc.invalidateToken(ctx, *res.QRToken)
		}
		svc.assignPenalty(ctx, res.MemberID, res.ID, penalty.ReasonNoShow)
		svc.notify(res.MemberID, fmt.Sprintf("No-show recorded for your reservation on %s.", res.Date))
	}
	return count, nil
}

// CompleteElapsed transitions entered reservations whose window elapsed
// to COMPLETED, stamping the exit. Idempotent like MarkNoShows.
func (svc *Service) CompleteElapsed(ctx context.Context, now time.Time) (int, error) {
	var due []model.Reservation
	if err := svc.store.DB().WithContext(ctx).
		Where("status IN ? AND end_at <= ?", []model.ReservationStatus{model.StatusEntrance, model.StatusLate}, now).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("completion scan failed: %w", err)
	}

	count := 0
	for _, res := range due {
		result := svc.store.DB().WithContext(ctx).
			Model(&model.Reservation{}).
			Where("id = ? AND status = ?", res.ID, res.Status).
			Updates(map[string]any{"status": model.StatusCompleted, "exited_at": now})
		if result.Error != nil {
			return count, fmt.Errorf("completion transition for reservation %d failed: %w", res.ID, result.Error)
		}
		count += int(result.RowsAffected)
	}
	return count, nil
}

func (svc *Service) cacheToken(ctx context.Context, token string, reservationID int64) {
	if svc.tokens == nil {
		return
	}
	if err := svc.tokens.Set(ctx, token, reservationID); err != nil {
		log.Printf("QR cache set failed for reservation %d: %v", reservationID, err)
	}
}

func (svc *Service) invalidateToken(ctx context.Context, token string) {
	if svc.tokens == nil {
		return
	}
	if err := svc.tokens.Invalidate(ctx, token); err != nil {
		log.Printf("QR cache invalidation failed: %v", err)
	}
}

func (svc *Service) assignPenalty(ctx context.Context, memberID, reservationID int64, reason penalty.Reason) {
	if err := svc.penalties.Assign(ctx, memberID, reservationID, reason); err != nil {
		log.Printf("penalty assignment (%s) for member %d, reservation %d failed: %v",
			reason, memberID, reservationID, err)
	}
}

func (svc *Service) notify(memberID int64, message string) {
	if svc.notifier == nil {
		return
	}
	svc.notifier.Notify(memberID, message)
}
