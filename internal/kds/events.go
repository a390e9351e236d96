package kds

import (
	"context"
	"encoding/json"

	"github.com/appetiteclub/edge/pkg/event"
)

func (e *Engine) metadata(eventType string, order *Order, ticketID TicketID) event.KitchenTicketEventMetadata {
	md := event.KitchenTicketEventMetadata{
		EventType:  eventType,
		OccurredAt: e.now(),
		OrderID:    order.ID.String(),
		OrderNo:    order.OrderNo,
		DayKey:     order.DayKey,
		Area:       order.Area,
		TableLabel: order.TableLabel,
	}
	if ticketID != (TicketID{}) {
		md.TicketID = ticketID.String()
	}
	return md
}

func (e *Engine) publishFired(ctx context.Context, order *Order, t *Ticket, stations []string) {
	e.publish(ctx, event.KitchenTicketFiredEvent{
		KitchenTicketEventMetadata: e.metadata(event.EventKitchenTicketFired, order, t.ID),
		Stations:                   stations,
		Items:                      len(t.Items),
		Note:                       t.Note,
	})
}

func (e *Engine) publishStation(ctx context.Context, order *Order, ticketID TicketID, row *TicketStation, index *int) {
	eventType := event.EventKitchenStationBumped
	evt := event.KitchenStationEvent{
		ItemIndex: index,
	}
	if index != nil {
		eventType = event.EventKitchenItemBumped
	}
	evt.KitchenTicketEventMetadata = e.metadata(eventType, order, ticketID)
	if row != nil {
		evt.Station = row.Station
		evt.Status = row.Status
		evt.BumpedAt = row.BumpedAt
		evt.BumpedBy = row.BumpedBy
	}
	e.publish(ctx, evt)
}

func (e *Engine) publishItemBumped(ctx context.Context, order *Order, ticketID TicketID, index int, done *TicketStation) {
	e.publishStation(ctx, order, ticketID, done, &index)
}

func (e *Engine) publishVoid(ctx context.Context, eventType string, order *Order, tickets []TicketID, sku, name, reason string, res VoidResult) {
	evt := event.KitchenVoidEvent{
		SKU:      sku,
		Name:     name,
		Reason:   reason,
		Voided:   res.Voided,
		Stations: res.StationsDone,
	}
	if len(tickets) == 0 {
		evt.KitchenTicketEventMetadata = e.metadata(eventType, order, TicketID{})
		e.publish(ctx, evt)
		return
	}
	for _, id := range tickets {
		evt.KitchenTicketEventMetadata = e.metadata(eventType, order, id)
		e.publish(ctx, evt)
	}
}

func (e *Engine) publish(ctx context.Context, evt any) {
	if e.publisher == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		e.logger.Errorf("cannot encode kitchen event: %v", err)
		return
	}
	if err := e.publisher.Publish(ctx, event.KitchenTicketsTopic, data); err != nil {
		e.logger.Errorf("Failed to publish kitchen event: %v", err)
	}
}
